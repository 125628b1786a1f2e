// Package mock provides in-memory mock implementations of the [room.Platform]
// and [room.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{
//	    InputStreamsResult: map[string]<-chan room.Frame{
//	        "user-1": make(chan room.Frame),
//	    },
//	}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "room-42")
package mock

import (
	"context"
	"sync"

	"github.com/k811069/Bunny-serve-sub001/pkg/room"
)

// Connection is a mock implementation of [room.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// InputStreamsResult is returned by [Connection.InputStreams].
	// Defaults to an empty (non-nil) map if left nil.
	InputStreamsResult map[string]<-chan room.Frame

	// PlayError is returned by [Connection.Play] after the chunk channel is
	// drained. When nil, Play returns the context error (if any) or nil.
	PlayError error

	// CloseError is returned by the first call to [Connection.Close].
	CloseError error

	// CallCountInputStreams records how many times InputStreams was called.
	CallCountInputStreams int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Played holds every chunk consumed by Play, across all calls, in order.
	Played [][]byte

	// RecordedCallbacks holds the callbacks registered via
	// OnParticipantChange, in order of registration.
	RecordedCallbacks []func(room.Event)

	closed bool
}

var _ room.Connection = (*Connection)(nil)

// InputStreams implements [room.Connection]. Returns InputStreamsResult.
// If InputStreamsResult is nil, an empty non-nil map is returned.
func (c *Connection) InputStreams() map[string]<-chan room.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	if c.InputStreamsResult == nil {
		return map[string]<-chan room.Frame{}
	}
	return c.InputStreamsResult
}

// SetInputStreams replaces InputStreamsResult under the mock's lock. Use it
// to make a stream appear mid-test before emitting a join event.
func (c *Connection) SetInputStreams(streams map[string]<-chan room.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InputStreamsResult = streams
}

// Play implements [room.Connection]. It drains chunks into Played until the
// channel closes or ctx is cancelled.
func (c *Connection) Play(ctx context.Context, chunks <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				c.mu.Lock()
				err := c.PlayError
				c.mu.Unlock()
				return err
			}
			c.mu.Lock()
			c.Played = append(c.Played, chunk)
			c.mu.Unlock()
		}
	}
}

// OnParticipantChange implements [room.Connection].
// The callback is appended to RecordedCallbacks. To simulate events in tests,
// call [Connection.EmitEvent].
func (c *Connection) OnParticipantChange(cb func(room.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// Close implements [room.Connection]. Returns CloseError on the first call
// and nil on subsequent calls.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if c.closed {
		return nil
	}
	c.closed = true
	return c.CloseError
}

// EmitEvent calls all registered participant-change callbacks with the given
// event. Use this in tests to simulate participants joining or leaving.
func (c *Connection) EmitEvent(ev room.Event) {
	c.mu.Lock()
	cbs := make([]func(room.Event), len(c.RecordedCallbacks))
	copy(cbs, c.RecordedCallbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// RoomID is the roomID argument passed to Connect.
	RoomID string
}

// Platform is a mock implementation of [room.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by [Platform.Connect] when ConnectError is nil.
	ConnectResult room.Connection

	// ConnectError, when non-nil, is returned by [Platform.Connect].
	ConnectError error

	// ConnectCalls records the arguments of every Connect invocation.
	ConnectCalls []ConnectCall
}

var _ room.Platform = (*Platform)(nil)

// Connect implements [room.Platform].
func (p *Platform) Connect(_ context.Context, roomID string) (room.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{RoomID: roomID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	return p.ConnectResult, nil
}
