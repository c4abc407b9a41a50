package elevator

import "github.com/ehrlich-b/go-iosched/internal/request"

// NoopName is the registered name of the arrival-order elevator
const NoopName = "noop"

func init() {
	MustRegister(NoopName, func() (Elevator, error) {
		return NewNoop(), nil
	})
}

// Noop dispatches strictly in arrival order regardless of direction
type Noop struct {
	fifo FIFO
}

// NewNoop creates an empty arrival-order elevator
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Name() string { return NoopName }

func (n *Noop) AddRequest(h request.Handle, _ request.Direction) {
	n.fifo.PushBack(h)
}

func (n *Noop) Dispatch() (request.Handle, bool) {
	return n.fifo.PopFront()
}

func (n *Noop) MergedRequests(next request.Handle, _ request.Direction) {
	n.fifo.Remove(next)
}

func (n *Noop) Pending() int { return n.fifo.Len() }

func (n *Noop) Attrs() []Attr { return nil }

var _ Elevator = (*Noop)(nil)
