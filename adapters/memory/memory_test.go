package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
	"github.com/codewandler/notify-go/ports/channel/channeltest"
)

func TestChannel_Conformance(t *testing.T) {
	t.Run("ordered", func(t *testing.T) {
		channeltest.Run(t, func(t *testing.T) channel.Channel { return New() })
	})
	t.Run("concurrent", func(t *testing.T) {
		channeltest.Run(t, func(t *testing.T) channel.Channel {
			return New(WithDeliveryMode(DeliverConcurrent))
		})
	})
}

func TestChannel_OrderedDelivery(t *testing.T) {
	c := New()
	defer c.Close()

	name, err := c.Create(t.Context(), channel.CreateOptions{Lifetime: state.LifetimeTemporary})
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []state.Stamp
		done = make(chan struct{})
	)
	_, err = c.Register(name, 0, func(n channel.Notification) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, n.Stamp)
		if n.Stamp == 100 {
			close(done)
		}
	})
	require.NoError(t, err)

	for range 100 {
		_, err := c.Write(t.Context(), name, []byte("x"), nil)
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deliveries did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 100)
	for i, s := range seen {
		require.Equal(t, state.Stamp(i+1), s)
	}
}

func TestChannel_WriteDoesNotWaitForCallbacks(t *testing.T) {
	c := New()
	defer c.Close()

	name, err := c.Create(t.Context(), channel.CreateOptions{})
	require.NoError(t, err)

	release := make(chan struct{})
	id, err := c.Register(name, 0, func(channel.Notification) { <-release })
	require.NoError(t, err)

	start := time.Now()
	for range 10 {
		_, err := c.Write(t.Context(), name, nil, nil)
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), time.Second)

	require.NoError(t, c.Unregister(id))
	close(release)
}

func TestChannel_CreateRequestedName(t *testing.T) {
	c := New()
	defer c.Close()

	wk := state.WellKnownName("memory.test")
	name, err := c.Create(t.Context(), channel.CreateOptions{Name: wk, Lifetime: state.LifetimeWellKnown})
	require.NoError(t, err)
	require.Equal(t, wk, name)

	_, err = c.Write(t.Context(), name, []byte("v"), nil)
	require.NoError(t, err)

	// Creating it again keeps the existing data.
	_, err = c.Create(t.Context(), channel.CreateOptions{Name: wk})
	require.NoError(t, err)
	snap, err := c.Read(t.Context(), wk)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), snap.Data)

	_, err = c.Create(t.Context(), channel.CreateOptions{Name: state.Name(0x0D83063EA3BE51F5)})
	require.ErrorIs(t, err, state.ErrInvalidName)
}

func TestChannel_AllocatedNamesDecode(t *testing.T) {
	c := New(WithOwnerTag(0xCAFE))
	defer c.Close()

	name, err := c.Create(t.Context(), channel.CreateOptions{
		Lifetime:    state.LifetimePermanent,
		Scope:       state.ScopeUser,
		PersistData: true,
	})
	require.NoError(t, err)

	d, err := name.Descriptor()
	require.NoError(t, err)
	require.Equal(t, state.LifetimePermanent, d.Lifetime)
	require.Equal(t, state.ScopeUser, d.Scope)
	require.True(t, d.Permanent)
	require.Equal(t, uint32(0xCAFE), d.OwnerTag)

	other, err := c.Create(t.Context(), channel.CreateOptions{})
	require.NoError(t, err)
	require.NotEqual(t, name, other)
}

func TestChannel_MaxSize(t *testing.T) {
	c := New()
	defer c.Close()

	name, err := c.Create(t.Context(), channel.CreateOptions{MaxSize: 4})
	require.NoError(t, err)

	_, err = c.Write(t.Context(), name, []byte("1234"), nil)
	require.NoError(t, err)
	_, err = c.Write(t.Context(), name, []byte("12345"), nil)
	require.ErrorIs(t, err, state.ErrTooLarge)
}

func TestChannel_Closed(t *testing.T) {
	c := New()
	name, err := c.Create(t.Context(), channel.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Read(t.Context(), name)
	require.ErrorIs(t, err, channel.ErrClosed)
	_, err = c.Register(name, 0, func(channel.Notification) {})
	require.ErrorIs(t, err, channel.ErrClosed)
}

func TestChannel_MaxPendingKeepsNewest(t *testing.T) {
	c := New(WithMaxPending(2))
	defer c.Close()

	name, err := c.Create(t.Context(), channel.CreateOptions{})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	got := make(chan state.Stamp, 16)
	_, err = c.Register(name, 0, func(n channel.Notification) {
		if n.Stamp == 1 {
			close(started)
			<-release
		}
		got <- n.Stamp
	})
	require.NoError(t, err)

	_, err = c.Write(t.Context(), name, nil, nil)
	require.NoError(t, err)
	<-started
	for range 10 {
		_, err := c.Write(t.Context(), name, nil, nil)
		require.NoError(t, err)
	}
	require.Equal(t, 8, c.Dropped())

	close(release)
	var seen []state.Stamp
	for range 3 {
		select {
		case s := <-got:
			seen = append(seen, s)
		case <-time.After(5 * time.Second):
			t.Fatal("deliveries did not complete")
		}
	}
	require.Equal(t, []state.Stamp{1, 10, 11}, seen)
}
