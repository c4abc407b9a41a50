package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-iosched"
	"github.com/ehrlich-b/go-iosched/backend"
	"github.com/ehrlich-b/go-iosched/internal/logging"
)

var (
	runSize        string
	runBackend     string
	runFile        string
	runElevator    string
	runDepth       int
	runBlockSize   int
	runTunables    map[string]string
	runRequests    int
	runReadRatio   float64
	runIOSize      string
	runWorkers     int
	runSeed        int64
	runSwitchTo    string
	runSwitchAfter int
	runMetricsAddr string
	runHold        bool
	runJSON        bool
	runProfile     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic read/write workload through a scheduled device",
	Long: `Create a device, issue --requests requests from --workers concurrent
submitters and print how the elevator dispatched them.

Each worker waits for its request to complete before issuing the next, so
up to --workers requests compete in the queue at any time.

A --profile file written in HCL can hold any of the settings; flags given
on the command line take precedence over it.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runSize, "size", "64MiB", "Device size (e.g. 64MiB, 1GiB)")
	f.StringVar(&runBackend, "backend", "memory", "Backend type (memory or file)")
	f.StringVar(&runFile, "file", "iosched-bench.img", "Backing file for --backend file")
	f.StringVar(&runElevator, "elevator", iosched.DefaultElevator, "Elevator to schedule with")
	f.IntVar(&runDepth, "depth", iosched.DefaultQueueDepth, "Queue depth")
	f.IntVar(&runBlockSize, "block-size", iosched.DefaultLogicalBlockSize, "Logical block size in bytes")
	f.StringToStringVar(&runTunables, "tunable", nil, "Elevator tunable name=value (repeatable)")
	f.IntVar(&runRequests, "requests", 10000, "Total requests to issue")
	f.Float64Var(&runReadRatio, "read-ratio", 0.8, "Fraction of requests that are reads")
	f.StringVar(&runIOSize, "io-size", "4KiB", "Size of each request")
	f.IntVar(&runWorkers, "workers", 8, "Concurrent submitters")
	f.Int64Var(&runSeed, "seed", 1, "Workload random seed")
	f.StringVar(&runSwitchTo, "switch-to", "", "Elevator to switch to during the run")
	f.IntVar(&runSwitchAfter, "switch-after", 0, "Requests issued before --switch-to takes effect")
	f.StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&runHold, "hold", false, "Keep serving metrics after the run until interrupted")
	f.BoolVar(&runJSON, "json", false, "Print the summary as JSON")
	f.StringVar(&runProfile, "profile", "", "HCL profile supplying defaults for the flags above")

	rootCmd.AddCommand(runCmd)
}

// workload describes the synthetic request stream
type workload struct {
	Requests    int
	ReadRatio   float64
	IOSize      int64
	Workers     int
	Seed        int64
	SwitchTo    string
	SwitchAfter int
}

func (w workload) validate(depth int, blockSize int64) error {
	switch {
	case w.Requests <= 0:
		return fmt.Errorf("--requests must be positive")
	case w.ReadRatio < 0 || w.ReadRatio > 1:
		return fmt.Errorf("--read-ratio must be within [0, 1]")
	case w.Workers <= 0 || w.Workers > depth:
		return fmt.Errorf("--workers must be within [1, %d] (queue depth)", depth)
	case w.IOSize <= 0 || w.IOSize%blockSize != 0:
		return fmt.Errorf("--io-size must be a positive multiple of %d", blockSize)
	case w.SwitchTo != "" && (w.SwitchAfter <= 0 || w.SwitchAfter >= w.Requests):
		return fmt.Errorf("--switch-after must be within [1, %d)", w.Requests)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.Default()

	if runProfile != "" {
		p, err := loadProfile(runProfile)
		if err != nil {
			return err
		}
		if err := p.apply(cmd.Flags()); err != nil {
			return err
		}
		log.Debug("loaded profile", "path", runProfile)
	}

	size, err := humanize.ParseBytes(runSize)
	if err != nil {
		return fmt.Errorf("invalid --size %q: %w", runSize, err)
	}
	ioSize, err := humanize.ParseBytes(runIOSize)
	if err != nil {
		return fmt.Errorf("invalid --io-size %q: %w", runIOSize, err)
	}

	wl := workload{
		Requests:    runRequests,
		ReadRatio:   runReadRatio,
		IOSize:      int64(ioSize),
		Workers:     runWorkers,
		Seed:        runSeed,
		SwitchTo:    runSwitchTo,
		SwitchAfter: runSwitchAfter,
	}
	if err := wl.validate(runDepth, int64(runBlockSize)); err != nil {
		return err
	}
	if int64(size) < wl.IOSize {
		return fmt.Errorf("--size %s is smaller than --io-size %s", runSize, runIOSize)
	}

	b, err := openBackend(runBackend, runFile, int64(size))
	if err != nil {
		return err
	}
	defer b.Close()

	params := iosched.DefaultParams(b)
	params.Elevator = runElevator
	params.QueueDepth = runDepth
	params.LogicalBlockSize = runBlockSize
	params.Tunables = runTunables
	params.DeviceName = "bench"

	device, err := iosched.CreateDevice(ctx, params, nil)
	if err != nil {
		return err
	}
	defer device.Close()

	if runMetricsAddr != "" {
		srv, err := serveMetrics(runMetricsAddr, device)
		if err != nil {
			return err
		}
		defer srv.Close()
		log.Info("serving metrics", "addr", runMetricsAddr)
	}

	log.Info("starting workload", "elevator", runElevator, "requests", wl.Requests,
		"workers", wl.Workers, "io_size", humanize.IBytes(uint64(wl.IOSize)),
		"size", humanize.IBytes(size))

	elapsed, err := runWorkload(ctx, device, wl)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := newSummary(device, elapsed)
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return err
		}
	} else {
		s.print(out)
	}

	if runHold && runMetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "\nServing metrics on %s, press Ctrl+C to stop...\n", runMetricsAddr)
		<-ctx.Done()
	}
	return nil
}

func openBackend(kind, path string, size int64) (iosched.Backend, error) {
	switch kind {
	case "memory":
		return backend.NewMemory(size), nil
	case "file":
		return openFileBackend(path, size)
	default:
		return nil, fmt.Errorf("unknown backend %q (want memory or file)", kind)
	}
}

func serveMetrics(addr string, device *iosched.Device) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		iosched.NewCollector(device.ID, device.Metrics()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server failed", "error", err)
		}
	}()
	return srv, nil
}

// runWorkload issues wl against device and returns the wall time taken
func runWorkload(ctx context.Context, device *iosched.Device, wl workload) (time.Duration, error) {
	blocks := device.Size() / wl.IOSize
	sectorsPerIO := uint32(wl.IOSize / iosched.SectorSize)

	var (
		issued   atomic.Int64
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}

	start := time.Now()
	for w := 0; w < wl.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(wl.Seed + int64(w)))
			buf := make([]byte, wl.IOSize)

			for {
				n := issued.Add(1)
				if n > int64(wl.Requests) || ctx.Err() != nil {
					return
				}

				if wl.SwitchTo != "" && n == int64(wl.SwitchAfter) {
					if err := device.Queue().SwitchElevator(wl.SwitchTo); err != nil {
						fail(err)
						return
					}
				}

				op := iosched.OpWrite
				if rng.Float64() < wl.ReadRatio {
					op = iosched.OpRead
				}
				rq := &iosched.Request{
					Op:        op,
					Sector:    uint64(rng.Int63n(blocks)) * uint64(sectorsPerIO),
					NrSectors: sectorsPerIO,
					Data:      buf,
				}
				if err := device.Do(ctx, rq); err != nil {
					fail(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if firstErr != nil {
		return 0, firstErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// summary is the printable result of a run
type summary struct {
	Elevator        string  `json:"elevator"`
	Elapsed         string  `json:"elapsed"`
	ReadDispatches  uint64  `json:"read_dispatches"`
	WriteDispatches uint64  `json:"write_dispatches"`
	ReadShare       float64 `json:"read_share"`
	Switches        uint64  `json:"elevator_switches"`
	AvgWait         string  `json:"avg_wait"`
	WaitP50         string  `json:"wait_p50"`
	WaitP99         string  `json:"wait_p99"`
	MaxQueueDepth   uint32  `json:"max_queue_depth"`
	ReadBytes       uint64  `json:"read_bytes"`
	WriteBytes      uint64  `json:"write_bytes"`
	IOErrors        uint64  `json:"io_errors"`
	IOPS            float64 `json:"iops"`
	Throughput      string  `json:"throughput"`

	Backend map[string]interface{} `json:"backend,omitempty"`
}

func newSummary(device *iosched.Device, elapsed time.Duration) summary {
	snap := device.MetricsSnapshot()

	throughput := "0 B/s"
	if elapsed > 0 {
		perSec := float64(snap.ReadBytes+snap.WriteBytes) / elapsed.Seconds()
		throughput = humanize.IBytes(uint64(perSec)) + "/s"
	}
	iops := 0.0
	if elapsed > 0 {
		iops = float64(snap.TotalOps) / elapsed.Seconds()
	}

	var stats map[string]interface{}
	if b, ok := device.Backend.(iosched.StatBackend); ok {
		stats = b.Stats()
	}

	return summary{
		Backend:         stats,
		Elevator:        device.Queue().ElevatorName(),
		Elapsed:         elapsed.Round(time.Millisecond).String(),
		ReadDispatches:  snap.ReadDispatches,
		WriteDispatches: snap.WriteDispatches,
		ReadShare:       snap.ReadShare,
		Switches:        snap.ElevatorSwitches,
		AvgWait:         time.Duration(snap.AvgWaitNs).String(),
		WaitP50:         time.Duration(snap.WaitP50Ns).String(),
		WaitP99:         time.Duration(snap.WaitP99Ns).String(),
		MaxQueueDepth:   snap.MaxQueueDepth,
		ReadBytes:       snap.ReadBytes,
		WriteBytes:      snap.WriteBytes,
		IOErrors:        snap.IOErrors,
		IOPS:            iops,
		Throughput:      throughput,
	}
}

func (s summary) print(w io.Writer) {
	fmt.Fprintf(w, "Elevator:        %s\n", s.Elevator)
	fmt.Fprintf(w, "Elapsed:         %s\n", s.Elapsed)
	fmt.Fprintf(w, "Dispatches:      %s reads, %s writes (%.1f%% reads)\n",
		humanize.Comma(int64(s.ReadDispatches)), humanize.Comma(int64(s.WriteDispatches)), s.ReadShare*100)
	if s.Switches > 0 {
		fmt.Fprintf(w, "Switches:        %d\n", s.Switches)
	}
	fmt.Fprintf(w, "Queue wait:      avg %s, p50 %s, p99 %s\n", s.AvgWait, s.WaitP50, s.WaitP99)
	fmt.Fprintf(w, "Max queue depth: %d\n", s.MaxQueueDepth)
	fmt.Fprintf(w, "Transferred:     %s read, %s written\n",
		humanize.IBytes(s.ReadBytes), humanize.IBytes(s.WriteBytes))
	fmt.Fprintf(w, "Throughput:      %s (%s IOPS)\n", s.Throughput, humanize.CommafWithDigits(s.IOPS, 0))
	if s.IOErrors > 0 {
		fmt.Fprintf(w, "I/O errors:      %d\n", s.IOErrors)
	}
	if len(s.Backend) > 0 {
		keys := make([]string, 0, len(s.Backend))
		for k := range s.Backend {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s=%v", k, s.Backend[k])
		}
		fmt.Fprintf(w, "Backend:         %s\n", strings.Join(pairs, " "))
	}
}
