package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-iosched"
	"github.com/ehrlich-b/go-iosched/backend"
)

func newBenchDevice(t *testing.T, elevatorName string) *iosched.Device {
	t.Helper()
	b := backend.NewMemory(1 << 20)
	params := iosched.DefaultParams(b)
	params.Elevator = elevatorName
	params.QueueDepth = 16

	d, err := iosched.CreateDevice(context.Background(), params, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Close()
		b.Close()
	})
	return d
}

func TestWorkloadValidate(t *testing.T) {
	valid := workload{Requests: 100, ReadRatio: 0.5, IOSize: 4096, Workers: 4}

	tests := []struct {
		name   string
		modify func(*workload)
		ok     bool
	}{
		{"valid", func(w *workload) {}, true},
		{"no requests", func(w *workload) { w.Requests = 0 }, false},
		{"ratio above one", func(w *workload) { w.ReadRatio = 1.5 }, false},
		{"negative ratio", func(w *workload) { w.ReadRatio = -0.1 }, false},
		{"no workers", func(w *workload) { w.Workers = 0 }, false},
		{"workers above depth", func(w *workload) { w.Workers = 17 }, false},
		{"unaligned io size", func(w *workload) { w.IOSize = 1000 }, false},
		{"switch without point", func(w *workload) { w.SwitchTo = "noop" }, false},
		{"switch after end", func(w *workload) { w.SwitchTo = "noop"; w.SwitchAfter = 100 }, false},
		{"switch", func(w *workload) { w.SwitchTo = "noop"; w.SwitchAfter = 50 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wl := valid
			tt.modify(&wl)
			err := wl.validate(16, 512)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRunWorkload(t *testing.T) {
	d := newBenchDevice(t, "anxiety")
	wl := workload{Requests: 2000, ReadRatio: 0.75, IOSize: 4096, Workers: 4, Seed: 7}

	elapsed, err := runWorkload(context.Background(), d, wl)
	require.NoError(t, err)
	assert.Positive(t, elapsed)

	snap := d.MetricsSnapshot()
	assert.Equal(t, uint64(2000), snap.ReadDispatches+snap.WriteDispatches)
	assert.Equal(t, uint64(2000), snap.ReadOps+snap.WriteOps)
	assert.Zero(t, snap.IOErrors)
	assert.Greater(t, snap.ReadDispatches, snap.WriteDispatches)
	assert.Zero(t, d.Queue().Pending())
}

func TestRunWorkloadSwitch(t *testing.T) {
	d := newBenchDevice(t, "anxiety")
	wl := workload{
		Requests:    1000,
		ReadRatio:   0.5,
		IOSize:      4096,
		Workers:     4,
		Seed:        1,
		SwitchTo:    "noop",
		SwitchAfter: 400,
	}

	_, err := runWorkload(context.Background(), d, wl)
	require.NoError(t, err)

	assert.Equal(t, "noop", d.Queue().ElevatorName())
	snap := d.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.ElevatorSwitches)
	assert.Equal(t, uint64(1000), snap.ReadDispatches+snap.WriteDispatches)
}

func TestRunWorkloadUnknownSwitch(t *testing.T) {
	d := newBenchDevice(t, "anxiety")
	wl := workload{
		Requests:    100,
		ReadRatio:   0.5,
		IOSize:      4096,
		Workers:     2,
		SwitchTo:    "does-not-exist",
		SwitchAfter: 10,
	}

	_, err := runWorkload(context.Background(), d, wl)
	require.Error(t, err)
	assert.Equal(t, "anxiety", d.Queue().ElevatorName())
}

func TestRunWorkloadCanceled(t *testing.T) {
	d := newBenchDevice(t, "anxiety")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runWorkload(ctx, d, workload{Requests: 100, IOSize: 4096, Workers: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummaryPrint(t *testing.T) {
	s := summary{
		Elevator:        "anxiety",
		Elapsed:         "1.5s",
		ReadDispatches:  12000,
		WriteDispatches: 3000,
		ReadShare:       0.8,
		AvgWait:         "20µs",
		WaitP50:         "10µs",
		WaitP99:         "1ms",
		MaxQueueDepth:   8,
		ReadBytes:       12000 * 4096,
		WriteBytes:      3000 * 4096,
		IOPS:            10000,
		Throughput:      "39 MiB/s",
	}

	var buf bytes.Buffer
	s.print(&buf)
	out := buf.String()

	assert.Contains(t, out, "Elevator:        anxiety")
	assert.Contains(t, out, "12,000 reads, 3,000 writes (80.0% reads)")
	assert.Contains(t, out, "avg 20µs, p50 10µs, p99 1ms")
	assert.Contains(t, out, "47 MiB read, 12 MiB written")
	assert.Contains(t, out, "10,000 IOPS")
	assert.NotContains(t, out, "Switches:")
	assert.NotContains(t, out, "I/O errors:")
	assert.NotContains(t, out, "Backend:")
}

func TestSummaryBackendStats(t *testing.T) {
	d := newBenchDevice(t, "anxiety")
	_, err := runWorkload(context.Background(), d, workload{Requests: 40, ReadRatio: 0.5, IOSize: 4096, Workers: 2, Seed: 3})
	require.NoError(t, err)

	s := newSummary(d, time.Second)
	require.NotNil(t, s.Backend)
	assert.Equal(t, "memory", s.Backend["type"])

	var buf bytes.Buffer
	s.print(&buf)
	assert.Contains(t, buf.String(), "Backend:         discards=0 reads=")
	assert.Contains(t, buf.String(), " size=1048576 type=memory writes=")
}

func TestOpenBackend(t *testing.T) {
	b, err := openBackend("memory", "", 1<<16)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<16), b.Size())
	b.Close()

	_, err = openBackend("tape", "", 1<<16)
	assert.Error(t, err)
}

func TestListElevators(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, listElevators(&buf))
	out := buf.String()

	assert.Contains(t, out, "* anxiety\n")
	assert.Contains(t, out, "    max_writes_starved = 4\n")
	assert.Contains(t, out, "  noop\n")
}

func TestRunCommandJSON(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"run", "--size", "1MiB", "--requests", "300", "--workers", "2",
		"--tunable", "max_writes_starved=1", "--json",
	})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	var s summary
	require.NoError(t, json.NewDecoder(strings.NewReader(out.String())).Decode(&s))
	assert.Equal(t, "anxiety", s.Elevator)
	assert.Equal(t, uint64(300), s.ReadDispatches+s.WriteDispatches)
	assert.Equal(t, uint64(300*4096), s.ReadBytes+s.WriteBytes)
}
