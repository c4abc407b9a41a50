package elevator

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-iosched/internal/request"
)

func handles(ns ...uint64) []request.Handle {
	out := make([]request.Handle, len(ns))
	for i, n := range ns {
		out[i] = request.Handle(n)
	}
	return out
}

func TestFIFOOrder(t *testing.T) {
	var f FIFO
	assert.True(t, f.Empty())
	_, ok := f.PopFront()
	assert.False(t, ok)

	for i := uint64(1); i <= 5; i++ {
		f.PushBack(request.Handle(i))
	}

	require.True(t, f.Remove(3))
	assert.False(t, f.Remove(3), "already removed")
	require.True(t, f.Remove(1), "remove head")

	if diff := cmp.Diff(handles(2, 4, 5), f.Handles()); diff != "" {
		t.Errorf("queue order mismatch (-want +got):\n%s", diff)
	}

	var got []request.Handle
	for {
		h, ok := f.PopFront()
		if !ok {
			break
		}
		got = append(got, h)
	}
	if diff := cmp.Diff(handles(2, 4, 5), got); diff != "" {
		t.Errorf("pop order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, f.Len())
}

func TestFIFOCompaction(t *testing.T) {
	var f FIFO
	for i := uint64(1); i <= 200; i++ {
		f.PushBack(request.Handle(i))
	}
	for i := uint64(1); i <= 150; i++ {
		h, ok := f.PopFront()
		require.True(t, ok)
		require.Equal(t, request.Handle(i), h)
	}
	assert.Equal(t, 50, f.Len())
	front, ok := f.Front()
	require.True(t, ok)
	assert.Equal(t, request.Handle(151), front)
	assert.Less(t, len(f.items), 200, "consumed prefix should be compacted")
}

func TestRegistry(t *testing.T) {
	const name = "test-registry"
	t.Cleanup(func() { Unregister(name) })

	require.NoError(t, Register(name, func() (Elevator, error) { return NewNoop(), nil }))

	err := Register(name, func() (Elevator, error) { return NewNoop(), nil })
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Panics(t, func() {
		MustRegister(name, func() (Elevator, error) { return NewNoop(), nil })
	})

	assert.Contains(t, Names(), name)
	assert.Contains(t, Names(), NoopName)

	e, err := New(name)
	require.NoError(t, err)
	assert.Equal(t, NoopName, e.Name())

	_, err = New("does-not-exist")
	assert.ErrorIs(t, err, ErrUnknownElevator)

	assert.Error(t, Register("", nil))
}

func TestRegistryConstructorError(t *testing.T) {
	const name = "test-failing"
	errNoMem := errors.New("no memory")
	require.NoError(t, Register(name, func() (Elevator, error) { return nil, errNoMem }))
	t.Cleanup(func() { Unregister(name) })

	e, err := New(name)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, errNoMem)
}

func TestNoopArrivalOrder(t *testing.T) {
	n := NewNoop()
	n.AddRequest(1, request.Write)
	n.AddRequest(2, request.Read)
	n.AddRequest(3, request.Read)
	n.AddRequest(4, request.Write)
	n.MergedRequests(3, request.Read)
	assert.Equal(t, 3, n.Pending())
	assert.Empty(t, n.Attrs())

	var got []request.Handle
	for {
		h, ok := n.Dispatch()
		if !ok {
			break
		}
		got = append(got, h)
	}
	if diff := cmp.Diff(handles(1, 2, 4), got); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestFindAttr(t *testing.T) {
	_, ok := FindAttr(NewNoop(), "anything")
	assert.False(t, ok)
}
