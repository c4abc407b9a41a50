// Package elevator defines the contract between a device request queue and
// the scheduling policy that picks its next request, plus a registry of
// policies by name.
//
// Elevators do no locking. The owning queue serializes every call on a
// given instance; distinct instances share nothing.
package elevator

import "github.com/ehrlich-b/go-iosched/internal/request"

// Elevator is a request scheduling policy for one device queue
type Elevator interface {
	// Name returns the registered name of the policy
	Name() string

	// AddRequest admits a newly queued request
	AddRequest(h request.Handle, dir request.Direction)

	// Dispatch removes and returns the next request to send to the device.
	// false means no request is available; that is not an error.
	Dispatch() (request.Handle, bool)

	// MergedRequests tells the elevator that next was absorbed into
	// another request and must no longer be dispatched
	MergedRequests(next request.Handle, dir request.Direction)

	// Pending returns the number of admitted, undispatched requests
	Pending() int

	// Attrs returns the tunables exposed by the policy
	Attrs() []Attr
}

// Attr is a named tunable. Show formats the current value; Store parses
// and applies a new one, leaving the old value in place on error.
type Attr struct {
	Name  string
	Show  func() string
	Store func(value string) error
}

// FindAttr looks up a tunable by name
func FindAttr(e Elevator, name string) (Attr, bool) {
	for _, a := range e.Attrs() {
		if a.Name == name {
			return a, true
		}
	}
	return Attr{}, false
}
