package iosched

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ehrlich-b/go-iosched/internal/elevator"
	"github.com/ehrlich-b/go-iosched/internal/logging"
	"github.com/ehrlich-b/go-iosched/internal/request"

	// Registers the anxiety elevator
	_ "github.com/ehrlich-b/go-iosched/internal/anxiety"
)

// Queue is the request queue of one device. It owns the queued requests
// and the active elevator, and serializes every call into the elevator.
type Queue struct {
	devID    uint32
	observer Observer
	log      *logging.Logger

	mu     sync.Mutex
	table  *request.Table
	elv    elevator.Elevator
	closed bool
}

// NewQueue creates a queue holding up to depth requests, scheduled by the
// elevator registered under name. A nil observer discards events.
func NewQueue(name string, depth int, observer Observer) (*Queue, error) {
	return newQueue(0, name, depth, observer, logging.Default())
}

func newQueue(devID uint32, name string, depth int, observer Observer, log *logging.Logger) (*Queue, error) {
	if depth <= 0 {
		return nil, NewDeviceError("CREATE_QUEUE", devID, ErrInvalidParameters,
			fmt.Sprintf("queue depth must be positive, got %d", depth))
	}
	if observer == nil {
		observer = NoOpObserver{}
	}
	if log == nil {
		log = logging.Nop()
	}

	elv, err := elevator.New(name)
	if err != nil {
		e := WrapError("CREATE_QUEUE", err)
		e.DevID = devID
		return nil, e
	}

	return &Queue{
		devID:    devID,
		observer: observer,
		log:      log,
		table:    request.NewTable(depth),
		elv:      elv,
	}, nil
}

// Add queues rq and hands it to the elevator. rq must not be modified
// until it completes.
func (q *Queue) Add(rq *Request) (Handle, error) {
	if rq == nil {
		return NilHandle, NewDeviceError("ADD", q.devID, ErrInvalidParameters, "nil request")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return NilHandle, NewDeviceError("ADD", q.devID, ErrQueueClosed, "")
	}

	rq.EnqueueTime = time.Now()
	h, err := q.table.Insert(rq)
	if err != nil {
		e := WrapError("ADD", err)
		e.DevID = q.devID
		q.observer.ObserveError(e.Code)
		return NilHandle, e
	}

	q.elv.AddRequest(h, rq.Direction())
	q.observer.ObserveAdd(uint32(q.table.Len()))
	return h, nil
}

// Dispatch removes the request the elevator picks next. false means the
// elevator offered nothing this call, which is not the same as an empty
// queue; see Pending.
func (q *Queue) Dispatch() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}

	for {
		h, ok := q.elv.Dispatch()
		if !ok {
			q.observer.ObserveIdle()
			return nil, false
		}

		rq, ok := q.table.Remove(h)
		if !ok {
			q.log.Error("elevator dispatched unknown request", "elevator", q.elv.Name(), "rq", h.String())
			continue
		}

		q.observer.ObserveDispatch(rq.Direction(), uint64(time.Since(rq.EnqueueTime).Nanoseconds()))
		return rq, true
	}
}

// drainElevator empties elv in its dispatch order. An elevator may
// decline a call while still holding requests, so the loop runs on
// Pending and gives up only after two empty calls in a row.
func drainElevator(elv elevator.Elevator, each func(h Handle)) {
	misses := 0
	for elv.Pending() > 0 && misses < 2 {
		h, ok := elv.Dispatch()
		if !ok {
			misses++
			continue
		}
		misses = 0
		each(h)
	}
}

// Merge absorbs next into into. next must be queued, carry the same op
// and start at the sector where into ends. next completes together with
// into, receiving the same result.
func (q *Queue) Merge(into, next Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return NewDeviceError("MERGE", q.devID, ErrQueueClosed, "")
	}

	intoRq, ok := q.table.Get(into)
	if !ok || into == next {
		return NewDeviceError("MERGE", q.devID, ErrNotMergeable, fmt.Sprintf("request %s is not queued", into))
	}
	nextRq, ok := q.table.Get(next)
	if !ok {
		return NewDeviceError("MERGE", q.devID, ErrNotMergeable, fmt.Sprintf("request %s is not queued", next))
	}
	if err := checkMergeable(intoRq, nextRq); err != nil {
		return NewDeviceError("MERGE", q.devID, ErrNotMergeable, err.Error())
	}

	joinRequests(intoRq, nextRq)

	q.elv.MergedRequests(next, nextRq.Direction())
	q.table.Remove(next)
	q.observer.ObserveMerge()
	return nil
}

func checkMergeable(into, next *Request) error {
	switch {
	case into.Op != next.Op:
		return fmt.Errorf("op mismatch: %s and %s", into.Op, next.Op)
	case into.Op == OpFlush:
		return errors.New("flush requests carry no range")
	case into.EndSector() != next.Sector:
		return fmt.Errorf("sector %d does not follow %d", next.Sector, into.EndSector())
	case uint64(into.NrSectors)+uint64(next.NrSectors) > math.MaxUint32:
		return errors.New("merged length overflows")
	}

	if into.Op == OpRead || into.Op == OpWrite {
		if len(into.Data) < int(into.NrSectors)*SectorSize || len(next.Data) < int(next.NrSectors)*SectorSize {
			return errors.New("request data shorter than transfer length")
		}
	}
	return nil
}

// joinRequests extends into by next. Data-carrying requests get a joint
// buffer; reads scatter it back into each request's own buffer on success.
func joinRequests(into, next *Request) {
	op := into.Op
	intoLen := int(into.NrSectors) * SectorSize
	nextLen := int(next.NrSectors) * SectorSize

	var buf, intoData, nextData []byte
	if op == OpRead || op == OpWrite {
		intoData, nextData = into.Data, next.Data
		buf = make([]byte, intoLen+nextLen)
		if op == OpWrite {
			copy(buf, intoData[:intoLen])
			copy(buf[intoLen:], nextData[:nextLen])
		}
		into.Data = buf
	}

	done := into.Done
	into.Done = func(err error) {
		if op == OpRead && err == nil {
			copy(intoData, buf[:intoLen])
			copy(nextData, buf[intoLen:])
		}
		if done != nil {
			done(err)
		}
		next.Complete(err)
	}
	into.NrSectors += next.NrSectors
}

// SwitchElevator replaces the active elevator with a fresh instance of
// the one registered under name. Queued requests move to the new elevator
// in the order the old one would have dispatched them. If the new
// elevator cannot be built the old one stays active.
func (q *Queue) SwitchElevator(name string) error {
	// Construct outside the lock; constructors may allocate
	next, err := elevator.New(name)
	if err != nil {
		e := WrapError("SWITCH_ELEVATOR", err)
		e.DevID = q.devID
		q.observer.ObserveError(e.Code)
		q.log.Warn("elevator switch failed", "elevator", name, "error", err)
		return e
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return NewDeviceError("SWITCH_ELEVATOR", q.devID, ErrQueueClosed, "")
	}

	prev := q.elv
	moved := 0
	drainElevator(prev, func(h Handle) {
		if rq, ok := q.table.Get(h); ok {
			next.AddRequest(h, rq.Direction())
			moved++
		}
	})
	q.elv = next

	q.observer.ObserveSwitch(prev.Name(), next.Name())
	q.log.Info("elevator switched", "from", prev.Name(), "to", next.Name(), "moved", moved)
	return nil
}

// ElevatorName returns the name of the active elevator
func (q *Queue) ElevatorName() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.elv.Name()
}

// AttrNames lists the tunables of the active elevator
func (q *Queue) AttrNames() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	attrs := q.elv.Attrs()
	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		names = append(names, a.Name)
	}
	return names
}

// ReadAttr formats the current value of a tunable, newline terminated
func (q *Queue) ReadAttr(name string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	attr, ok := elevator.FindAttr(q.elv, name)
	if !ok || attr.Show == nil {
		return "", q.unknownAttr("SHOW_ATTR", name)
	}
	return attr.Show(), nil
}

// WriteAttr parses value and applies it to a tunable. On error the
// tunable keeps its previous value.
func (q *Queue) WriteAttr(name, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	attr, ok := elevator.FindAttr(q.elv, name)
	if !ok || attr.Store == nil {
		return q.unknownAttr("STORE_ATTR", name)
	}
	if err := attr.Store(value); err != nil {
		e := WrapError("STORE_ATTR", err)
		e.DevID = q.devID
		q.observer.ObserveError(e.Code)
		q.log.Warn("rejected tunable write", "attr", name, "value", value, "error", err)
		return e
	}

	q.log.Debug("tunable updated", "attr", name, "value", value)
	return nil
}

func (q *Queue) unknownAttr(op, name string) error {
	return NewDeviceError(op, q.devID, ErrInvalidParameters,
		fmt.Sprintf("elevator %s has no attribute %q", q.elv.Name(), name))
}

// Pending returns the number of queued requests
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.table.Len()
}

// Close rejects further requests and fails every queued request with
// ErrQueueClosed. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	var dropped []*Request
	drainElevator(q.elv, func(h Handle) {
		if rq, ok := q.table.Remove(h); ok {
			dropped = append(dropped, rq)
		}
	})
	// Anything the elevator lost track of
	var lost []*Request
	q.table.Each(func(rq *Request) {
		lost = append(lost, rq)
	})
	for _, rq := range lost {
		q.table.Remove(rq.Handle())
	}
	dropped = append(dropped, lost...)
	q.mu.Unlock()

	// Completions run unlocked; Done may call back into the queue
	for _, rq := range dropped {
		q.observer.ObserveError(ErrQueueClosed)
		rq.Complete(NewDeviceError("CLOSE", q.devID, ErrQueueClosed, ""))
	}
	if len(dropped) > 0 {
		q.log.Info("queue closed with pending requests", "dropped", len(dropped))
	}
	return nil
}
