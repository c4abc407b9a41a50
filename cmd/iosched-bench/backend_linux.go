package main

import (
	"github.com/ehrlich-b/go-iosched"
	"github.com/ehrlich-b/go-iosched/backend"
)

func openFileBackend(path string, size int64) (iosched.Backend, error) {
	return backend.OpenFile(path, size)
}
