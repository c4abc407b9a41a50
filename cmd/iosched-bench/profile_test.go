package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `
device {
  elevator   = "anxiety"
  size       = "8MiB"
  depth      = 32
  block_size = 4096
  tunables   = { max_writes_starved = 2 }
}

workload {
  requests     = 5000
  read_ratio   = 0.9
  io_size      = "16KiB"
  switch_to    = "noop"
  switch_after = 2500
}

metrics {
  addr = ":9100"
}
`

func TestParseProfile(t *testing.T) {
	p, err := parseProfile([]byte(sampleProfile), "bench.hcl")
	require.NoError(t, err)

	want := map[string]string{
		"elevator":     "anxiety",
		"size":         "8MiB",
		"depth":        "32",
		"block-size":   "4096",
		"requests":     "5000",
		"read-ratio":   "0.9",
		"io-size":      "16KiB",
		"switch-to":    "noop",
		"switch-after": "2500",
		"metrics-addr": ":9100",
	}
	if diff := cmp.Diff(want, p.flagValues()); diff != "" {
		t.Errorf("flag values mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]string{"max_writes_starved": "2"}, p.Device.Tunables)
}

func TestParseProfileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `device {`},
		{"unknown block", `disk { size = "1MiB" }`},
		{"unknown attribute", `workload { speed = 3 }`},
		{"wrong type", `workload { requests = "many" }`},
		{"metrics without addr", `metrics { hold = true }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseProfile([]byte(tt.src), "bad.hcl")
			assert.Error(t, err)
		})
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`workload { workers = 3 }`), 0o644))

	p, err := loadProfile(path)
	require.NoError(t, err)
	require.NotNil(t, p.Workload)
	assert.Equal(t, 3, *p.Workload.Workers)
	assert.Nil(t, p.Device)

	_, err = loadProfile(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}

func TestProfileApplyKeepsCommandLine(t *testing.T) {
	var (
		requests int
		elevator string
	)
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.IntVar(&requests, "requests", 10, "")
	flags.StringVar(&elevator, "elevator", "anxiety", "")
	for _, name := range []string{"size", "depth", "block-size", "read-ratio", "io-size", "switch-to", "switch-after", "metrics-addr"} {
		flags.String(name, "", "")
	}
	require.NoError(t, flags.Parse([]string{"--requests", "77"}))

	saved := runTunables
	runTunables = map[string]string{"max_writes_starved": "7"}
	t.Cleanup(func() { runTunables = saved })

	p, err := parseProfile([]byte(sampleProfile), "bench.hcl")
	require.NoError(t, err)
	p.Device.Elevator = nil
	require.NoError(t, p.apply(flags))

	assert.Equal(t, 77, requests)
	assert.Equal(t, "anxiety", elevator)
	size, err := flags.GetString("size")
	require.NoError(t, err)
	assert.Equal(t, "8MiB", size)
	assert.Equal(t, map[string]string{"max_writes_starved": "7"}, runTunables)
}

func TestProfileApplyUnknownFlag(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	p, err := parseProfile([]byte(`workload { workers = 2 }`), "bench.hcl")
	require.NoError(t, err)
	assert.Error(t, p.apply(flags))
}
