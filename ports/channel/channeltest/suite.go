// Package channeltest holds the behavior every channel.Channel adapter must
// satisfy. Adapters run it from their own tests:
//
//	func TestChannel(t *testing.T) {
//	    channeltest.Run(t, func(t *testing.T) channel.Channel { return memory.New() })
//	}
package channeltest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

// Factory returns a fresh channel. The suite closes it.
type Factory func(t *testing.T) channel.Channel

const deliveryTimeout = 5 * time.Second

// Run executes the conformance suite.
func Run(t *testing.T, newChannel Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, ch channel.Channel)
	}{
		{"create starts empty at stamp 0", testCreate},
		{"writes advance the stamp", testWriteAdvances},
		{"conditional writes", testConditionalWrite},
		{"missing states", testNotFound},
		{"oversized data", testTooLarge},
		{"info", testInfo},
		{"register delivers later writes", testRegisterLater},
		{"register delivers pending change", testRegisterPending},
		{"register without pending change stays quiet", testRegisterQuiet},
		{"unregister stops delivery", testUnregister},
		{"unregister from inside the callback", testUnregisterInside},
		{"delete", testDelete},
		{"racing deletes", testConcurrentDelete},
		{"reads see the caller's own writes", testReadAfterWrite},
		{"a cancelled reader does not fail the others", testCancelledReader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newChannel(t)
			t.Cleanup(func() { _ = ch.Close() })
			tt.fn(t, ch)
		})
	}
}

func create(t *testing.T, ch channel.Channel) state.Name {
	t.Helper()
	name, err := ch.Create(t.Context(), channel.CreateOptions{
		Lifetime: state.LifetimeTemporary,
		Scope:    state.ScopeMachine,
	})
	require.NoError(t, err)
	return name
}

type recorder struct {
	ch chan channel.Notification
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan channel.Notification, 64)}
}

func (r *recorder) notify(n channel.Notification) {
	n.Data = bytes.Clone(n.Data)
	r.ch <- n
}

func (r *recorder) next(t *testing.T) channel.Notification {
	t.Helper()
	select {
	case n := <-r.ch:
		return n
	case <-time.After(deliveryTimeout):
		require.FailNow(t, "no notification delivered")
		return channel.Notification{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case n := <-r.ch:
		require.FailNow(t, "unexpected notification", "stamp=%d", n.Stamp)
	case <-time.After(wait):
	}
}

func testCreate(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	snap, err := ch.Read(t.Context(), name)
	require.NoError(t, err)
	require.Equal(t, name, snap.Name)
	require.Equal(t, state.Stamp(0), snap.Stamp)
	require.Empty(t, snap.Data)
}

func testWriteAdvances(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	var last state.Stamp
	for i, v := range []string{"a", "b", "c"} {
		stamp, err := ch.Write(t.Context(), name, []byte(v), nil)
		require.NoError(t, err)
		require.Equal(t, state.Stamp(i+1), stamp)
		require.True(t, stamp.After(last))
		last = stamp

		snap, err := ch.Read(t.Context(), name)
		require.NoError(t, err)
		require.Equal(t, []byte(v), snap.Data)
		require.Equal(t, stamp, snap.Stamp)
	}
}

func testConditionalWrite(t *testing.T, ch channel.Channel) {
	name := create(t, ch)

	stamp, err := ch.Write(t.Context(), name, []byte("a"), state.Stamp(0).Ptr())
	require.NoError(t, err)
	require.Equal(t, state.Stamp(1), stamp)

	_, err = ch.Write(t.Context(), name, []byte("b"), state.Stamp(0).Ptr())
	require.ErrorIs(t, err, state.ErrConflict)

	snap, err := ch.Read(t.Context(), name)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), snap.Data)

	stamp, err = ch.Write(t.Context(), name, []byte("c"), stamp.Ptr())
	require.NoError(t, err)
	require.Equal(t, state.Stamp(2), stamp)
}

func testNotFound(t *testing.T, ch channel.Channel) {
	missing := state.WellKnownName("channeltest.missing")

	_, err := ch.Read(t.Context(), missing)
	require.ErrorIs(t, err, state.ErrNotFound)

	_, err = ch.Write(t.Context(), missing, []byte("x"), nil)
	require.ErrorIs(t, err, state.ErrNotFound)

	info, err := ch.Info(t.Context(), missing)
	require.NoError(t, err)
	require.False(t, info.Exists)
}

func testTooLarge(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	_, err := ch.Write(t.Context(), name, make([]byte, state.MaxStateSize+1), nil)
	require.ErrorIs(t, err, state.ErrTooLarge)
}

func testInfo(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	_, err := ch.Write(t.Context(), name, []byte("abc"), nil)
	require.NoError(t, err)

	info, err := ch.Info(t.Context(), name)
	require.NoError(t, err)
	require.True(t, info.Exists)
	require.Equal(t, state.Stamp(1), info.Stamp)
	require.Equal(t, 3, info.Size)
	require.False(t, info.SubscribersPresent)

	id, err := ch.Register(name, info.Stamp, func(channel.Notification) {})
	require.NoError(t, err)

	info, err = ch.Info(t.Context(), name)
	require.NoError(t, err)
	require.True(t, info.SubscribersPresent)

	require.NoError(t, ch.Unregister(id))
}

func testRegisterLater(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	rec := newRecorder()

	id, err := ch.Register(name, 0, rec.notify)
	require.NoError(t, err)
	defer func() { _ = ch.Unregister(id) }()

	stamp, err := ch.Write(t.Context(), name, []byte("hello"), nil)
	require.NoError(t, err)

	n := rec.next(t)
	require.Equal(t, name, n.Name)
	require.GreaterOrEqual(t, n.Stamp, stamp)
	require.Equal(t, []byte("hello"), n.Data)
}

func testRegisterPending(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	_, err := ch.Write(t.Context(), name, []byte("a"), nil)
	require.NoError(t, err)

	rec := newRecorder()
	id, err := ch.Register(name, 0, rec.notify)
	require.NoError(t, err)
	defer func() { _ = ch.Unregister(id) }()

	n := rec.next(t)
	require.Equal(t, state.Stamp(1), n.Stamp)
	require.Equal(t, []byte("a"), n.Data)
}

func testRegisterQuiet(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	stamp, err := ch.Write(t.Context(), name, []byte("a"), nil)
	require.NoError(t, err)

	rec := newRecorder()
	id, err := ch.Register(name, stamp, rec.notify)
	require.NoError(t, err)
	defer func() { _ = ch.Unregister(id) }()

	rec.none(t, 100*time.Millisecond)
}

func testUnregister(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	rec := newRecorder()

	id, err := ch.Register(name, 0, rec.notify)
	require.NoError(t, err)

	_, err = ch.Write(t.Context(), name, []byte("a"), nil)
	require.NoError(t, err)
	rec.next(t)

	require.NoError(t, ch.Unregister(id))
	require.NoError(t, ch.Unregister(id), "unregister must be idempotent")

	_, err = ch.Write(t.Context(), name, []byte("b"), nil)
	require.NoError(t, err)
	rec.none(t, 200*time.Millisecond)
}

func testUnregisterInside(t *testing.T, ch channel.Channel) {
	name := create(t, ch)

	var (
		idMu sync.Mutex
		id   channel.RegistrationID
		done = make(chan error, 1)
	)
	idMu.Lock()
	reg, err := ch.Register(name, 0, func(channel.Notification) {
		idMu.Lock()
		defer idMu.Unlock()
		done <- ch.Unregister(id)
	})
	require.NoError(t, err)
	id = reg
	idMu.Unlock()

	_, err = ch.Write(t.Context(), name, []byte("a"), nil)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(deliveryTimeout):
		require.FailNow(t, "unregister inside callback did not return")
	}
}

func testDelete(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	require.NoError(t, ch.Delete(t.Context(), name))

	_, err := ch.Read(t.Context(), name)
	require.ErrorIs(t, err, state.ErrNotFound)

	info, err := ch.Info(t.Context(), name)
	require.NoError(t, err)
	require.False(t, info.Exists)
}

func testConcurrentDelete(t *testing.T, ch channel.Channel) {
	name := create(t, ch)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		notFound int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ch.Delete(context.Background(), name)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, state.ErrNotFound):
				notFound++
			default:
				t.Errorf("unexpected delete error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, callers-1, notFound)
}

func testReadAfterWrite(t *testing.T, ch channel.Channel) {
	name := create(t, ch)

	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				_, _ = ch.Read(ctx, name)
			}
		}()
	}
	defer wg.Wait()
	defer cancel()

	for i := range 20 {
		stamp, err := ch.Write(t.Context(), name, []byte{byte(i)}, nil)
		require.NoError(t, err)
		snap, err := ch.Read(t.Context(), name)
		require.NoError(t, err)
		require.GreaterOrEqual(t, snap.Stamp, stamp)
	}
}

func testCancelledReader(t *testing.T, ch channel.Channel) {
	name := create(t, ch)
	_, err := ch.Write(t.Context(), name, []byte("v"), nil)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(t.Context())
	cancel()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = ch.Read(cancelled, name)
				return
			}
			snap, err := ch.Read(context.Background(), name)
			if err != nil {
				t.Errorf("read: %v", err)
				return
			}
			if !bytes.Equal([]byte("v"), snap.Data) {
				t.Errorf("read %q", snap.Data)
			}
		}()
	}
	wg.Wait()
}
