// Package iosched provides block device request queues scheduled by
// pluggable elevators, and devices that execute the dispatched requests
// against a storage backend
package iosched

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-iosched/internal/constants"
	"github.com/ehrlich-b/go-iosched/internal/logging"
	"github.com/ehrlich-b/go-iosched/internal/queue"
)

// lastDeviceID backs automatic ID assignment. ID 0 means "no device" in
// errors, so assigned IDs start at 1.
var lastDeviceID atomic.Uint32

// Device is a request queue bound to a backend, with a dispatch loop
// executing requests in elevator order
type Device struct {
	// ID is the device ID, assigned at creation unless requested
	ID uint32

	// Name is an optional label used in logs
	Name string

	// Backend is the backend implementation
	Backend Backend

	ctx    context.Context
	cancel context.CancelFunc

	depth     int
	blockSize int
	readOnly  bool

	queue  *Queue
	runner *queue.Runner
	log    *logging.Logger

	// Metrics and observability
	metrics  *Metrics
	observer Observer

	mu      sync.Mutex
	started bool
	closed  bool
}

// DeviceParams contains parameters for creating a device
type DeviceParams struct {
	// Backend provides the storage implementation
	Backend Backend

	// Scheduling
	Elevator   string            // Registered elevator name (default: "anxiety")
	QueueDepth int               // Requests queued before Submit fails (default: 128)
	Tunables   map[string]string // Elevator attributes applied at creation

	// Device attributes
	LogicalBlockSize int  // Logical block size in bytes (default: 512)
	ReadOnly         bool // Reject write-class requests

	// Advanced options
	DeviceID   int32  // Specific device ID to use (-1 for auto)
	DeviceName string // Optional device name
}

// DefaultParams returns default device parameters
func DefaultParams(backend Backend) DeviceParams {
	return DeviceParams{
		Backend:          backend,
		Elevator:         constants.DefaultElevator,
		QueueDepth:       constants.DefaultQueueDepth,
		LogicalBlockSize: constants.DefaultLogicalBlockSize,
		DeviceID:         constants.AutoAssignDeviceID,
	}
}

// Options contains additional options for device creation
type Options struct {
	// Context for cancellation (if nil, uses context.Background())
	Context context.Context

	// Logger for dispatch loop messages (if nil, the default logger)
	Logger Logger

	// Observer receives events in addition to the device Metrics
	Observer Observer
}

// Validate checks params for values CreateDevice would reject
func (p DeviceParams) Validate() error {
	switch {
	case p.Backend == nil:
		return NewError("CREATE_DEVICE", ErrInvalidParameters, "backend is required")
	case p.QueueDepth <= 0:
		return NewError("CREATE_DEVICE", ErrInvalidParameters,
			fmt.Sprintf("queue depth must be positive, got %d", p.QueueDepth))
	case p.LogicalBlockSize < SectorSize || p.LogicalBlockSize > 4096 ||
		p.LogicalBlockSize&(p.LogicalBlockSize-1) != 0:
		return NewError("CREATE_DEVICE", ErrInvalidParameters,
			fmt.Sprintf("logical block size must be a power of two in [512, 4096], got %d", p.LogicalBlockSize))
	case p.DeviceID < constants.AutoAssignDeviceID:
		return NewError("CREATE_DEVICE", ErrInvalidParameters,
			fmt.Sprintf("invalid device ID %d", p.DeviceID))
	}
	return nil
}

// CreateDevice builds the request queue for params and starts dispatching.
// The device serves requests until Close is called or the context is
// cancelled.
//
// Example:
//
//	b := backend.NewMemory(64 << 20) // 64MB RAM disk
//	params := iosched.DefaultParams(b)
//	params.Tunables = map[string]string{"max_writes_starved": "2"}
//	device, err := iosched.CreateDevice(context.Background(), params, nil)
func CreateDevice(ctx context.Context, params DeviceParams, options *Options) (*Device, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	if params.Elevator == "" {
		params.Elevator = constants.DefaultElevator
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	devID := uint32(params.DeviceID)
	if params.DeviceID == constants.AutoAssignDeviceID {
		devID = lastDeviceID.Add(1)
	}

	log := logging.Default().WithDevice(devID)

	// Device metrics always record; a caller observer sees the same events
	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = multiObserver{observer, options.Observer}
	}

	q, err := newQueue(devID, params.Elevator, params.QueueDepth, observer, log.WithElevator(params.Elevator))
	if err != nil {
		return nil, err
	}

	if err := applyTunables(q, params.Tunables); err != nil {
		q.Close()
		return nil, err
	}

	device := &Device{
		ID:        devID,
		Name:      params.DeviceName,
		Backend:   params.Backend,
		depth:     params.QueueDepth,
		blockSize: params.LogicalBlockSize,
		readOnly:  params.ReadOnly,
		queue:     q,
		log:       log,
		metrics:   metrics,
		observer:  observer,
	}
	device.ctx, device.cancel = context.WithCancel(ctx)

	var runnerLog queue.Logger = log
	if options.Logger != nil {
		runnerLog = options.Logger
	}

	device.runner, err = queue.NewRunner(device.ctx, queue.Config{
		DevID:    devID,
		Source:   q,
		Backend:  params.Backend,
		Logger:   runnerLog,
		Observer: observer,
	})
	if err != nil {
		device.cancel()
		q.Close()
		return nil, WrapError("CREATE_DEVICE", err)
	}

	if err := device.runner.Start(); err != nil {
		device.cancel()
		q.Close()
		return nil, WrapError("CREATE_DEVICE", err)
	}
	device.started = true

	// Stop with the context, not only through Close
	go func() {
		<-device.ctx.Done()
		device.Close()
	}()

	log.Info("device created", "name", params.DeviceName, "elevator", params.Elevator,
		"depth", params.QueueDepth, "size", params.Backend.Size())
	return device, nil
}

// applyTunables writes attributes in name order so failures are reproducible
func applyTunables(q *Queue, tunables map[string]string) error {
	names := make([]string, 0, len(tunables))
	for name := range tunables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := q.WriteAttr(name, tunables[name]); err != nil {
			return err
		}
	}
	return nil
}

// Submit queues rq and wakes the dispatch loop. rq.Done is called once
// the request has been executed, merged away or dropped.
func (d *Device) Submit(rq *Request) error {
	if err := d.check(rq); err != nil {
		return err
	}
	if _, err := d.queue.Add(rq); err != nil {
		return err
	}
	d.runner.Kick()
	return nil
}

// Do submits rq and waits for it to complete. If ctx ends first the
// request stays queued and ctx.Err() is returned.
func (d *Device) Do(ctx context.Context, rq *Request) error {
	if rq == nil {
		return NewDeviceError("SUBMIT", d.ID, ErrInvalidParameters, "nil request")
	}

	result := make(chan error, 1)
	done := rq.Done
	rq.Done = func(err error) {
		if done != nil {
			done(err)
		}
		result <- err
	}

	if err := d.Submit(rq); err != nil {
		rq.Done = done
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) check(rq *Request) error {
	if rq == nil {
		return NewDeviceError("SUBMIT", d.ID, ErrInvalidParameters, "nil request")
	}
	if d.State() != DeviceStateRunning {
		return NewDeviceError("SUBMIT", d.ID, ErrQueueClosed, "")
	}
	if rq.Op > OpWriteZeroes {
		return NewDeviceError("SUBMIT", d.ID, ErrInvalidInput, fmt.Sprintf("unknown op %s", rq.Op))
	}
	if d.readOnly && rq.Op != OpRead && rq.Op != OpFlush {
		return NewDeviceError("SUBMIT", d.ID, ErrInvalidInput, "device is read-only")
	}
	if rq.Op == OpFlush && rq.NrSectors == 0 {
		return nil
	}

	blockSectors := uint64(d.blockSize / SectorSize)
	if rq.NrSectors == 0 || rq.Sector%blockSectors != 0 || uint64(rq.NrSectors)%blockSectors != 0 {
		return NewDeviceError("SUBMIT", d.ID, ErrInvalidInput,
			fmt.Sprintf("range %d+%d not aligned to %d-byte blocks", rq.Sector, rq.NrSectors, d.blockSize))
	}
	if rq.EndSector()*SectorSize > uint64(d.Size()) {
		return NewDeviceError("SUBMIT", d.ID, ErrInvalidInput,
			fmt.Sprintf("range %d+%d beyond end of device", rq.Sector, rq.NrSectors))
	}
	if (rq.Op == OpRead || rq.Op == OpWrite) && len(rq.Data) < int(rq.NrSectors)*SectorSize {
		return NewDeviceError("SUBMIT", d.ID, ErrInvalidInput, "request data shorter than transfer length")
	}
	return nil
}

// Queue returns the device request queue, for elevator switches and
// tunables
func (d *Device) Queue() *Queue {
	return d.queue
}

// DeviceState represents the current state of a device
type DeviceState string

const (
	// DeviceStateCreated indicates the device has been created but not started
	DeviceStateCreated DeviceState = "created"
	// DeviceStateRunning indicates the device is actively serving I/O
	DeviceStateRunning DeviceState = "running"
	// DeviceStateStopped indicates the device has been stopped
	DeviceStateStopped DeviceState = "stopped"
)

// State returns the current state of the device
func (d *Device) State() DeviceState {
	if d == nil {
		return DeviceStateStopped
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return DeviceStateStopped
	case !d.started:
		return DeviceStateCreated
	}

	select {
	case <-d.ctx.Done():
		return DeviceStateStopped
	default:
		return DeviceStateRunning
	}
}

// IsRunning returns true if the device is currently serving I/O
func (d *Device) IsRunning() bool {
	return d.State() == DeviceStateRunning
}

// QueueDepth returns the queue depth configured for this device
func (d *Device) QueueDepth() int {
	return d.depth
}

// BlockSize returns the logical block size of this device
func (d *Device) BlockSize() int {
	return d.blockSize
}

// Size returns the size of the device in bytes
func (d *Device) Size() int64 {
	if d.Backend == nil {
		return 0
	}
	return d.Backend.Size()
}

// DeviceInfo contains comprehensive information about a device
type DeviceInfo struct {
	ID         uint32      `json:"id"`
	Name       string      `json:"name,omitempty"`
	State      DeviceState `json:"state"`
	Elevator   string      `json:"elevator"`
	Pending    int         `json:"pending"`
	QueueDepth int         `json:"queue_depth"`
	BlockSize  int         `json:"block_size"`
	Size       int64       `json:"size"`
	ReadOnly   bool        `json:"read_only"`
	Running    bool        `json:"running"`
}

// Info returns comprehensive information about the device
func (d *Device) Info() DeviceInfo {
	if d == nil {
		return DeviceInfo{}
	}

	state := d.State()
	return DeviceInfo{
		ID:         d.ID,
		Name:       d.Name,
		State:      state,
		Elevator:   d.queue.ElevatorName(),
		Pending:    d.queue.Pending(),
		QueueDepth: d.depth,
		BlockSize:  d.blockSize,
		Size:       d.Size(),
		ReadOnly:   d.readOnly,
		Running:    state == DeviceStateRunning,
	}
}

// Metrics returns the current metrics for the device
func (d *Device) Metrics() *Metrics {
	if d == nil {
		return nil
	}
	return d.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of device metrics
func (d *Device) MetricsSnapshot() MetricsSnapshot {
	if d == nil || d.metrics == nil {
		return MetricsSnapshot{}
	}
	return d.metrics.Snapshot()
}

// Close stops the dispatch loop, then fails every request still queued
// with ErrQueueClosed. The backend is left open. Close is idempotent.
func (d *Device) Close() error {
	if d == nil {
		return ErrInvalidParameters
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()

	var runnerErr error
	if d.runner != nil {
		runnerErr = d.runner.Close()
	}
	d.queue.Close()
	d.metrics.Stop()

	d.log.Info("device closed")
	if runnerErr != nil {
		return WrapError("CLOSE", runnerErr)
	}
	return nil
}

// multiObserver fans events out to several observers
type multiObserver []Observer

func (m multiObserver) ObserveAdd(depth uint32) {
	for _, o := range m {
		o.ObserveAdd(depth)
	}
}

func (m multiObserver) ObserveDispatch(dir Direction, waitNs uint64) {
	for _, o := range m {
		o.ObserveDispatch(dir, waitNs)
	}
}

func (m multiObserver) ObserveIdle() {
	for _, o := range m {
		o.ObserveIdle()
	}
}

func (m multiObserver) ObserveMerge() {
	for _, o := range m {
		o.ObserveMerge()
	}
}

func (m multiObserver) ObserveIO(op Op, bytes uint64, latencyNs uint64, success bool) {
	for _, o := range m {
		o.ObserveIO(op, bytes, latencyNs, success)
	}
}

func (m multiObserver) ObserveSwitch(from, to string) {
	for _, o := range m {
		o.ObserveSwitch(from, to)
	}
}

func (m multiObserver) ObserveError(code ErrorCode) {
	for _, o := range m {
		o.ObserveError(code)
	}
}
