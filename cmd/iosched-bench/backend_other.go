//go:build !linux

package main

import (
	"errors"

	"github.com/ehrlich-b/go-iosched"
)

func openFileBackend(path string, size int64) (iosched.Backend, error) {
	return nil, errors.New("file backend requires linux")
}
