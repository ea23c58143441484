package process_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/notify-go/adapters/memory"
	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/process"
	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

func newProcess(t *testing.T) (*process.Process, *memory.Channel) {
	t.Helper()
	ch := memory.New()
	t.Cleanup(func() { _ = ch.Close() })
	p, err := process.New(process.Config{Channel: ch})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, ch
}

func TestNew_RequiresChannel(t *testing.T) {
	_, err := process.New(process.Config{})
	require.Error(t, err)
}

func TestProcess_CreateOwnership(t *testing.T) {
	p, _ := newProcess(t)
	ctx := t.Context()

	tests := []struct {
		name string
		opts channel.CreateOptions
		want state.Ownership
	}{
		{"temporary", channel.CreateOptions{Lifetime: state.LifetimeTemporary, Scope: state.ScopeUser}, state.OwnershipTemporary},
		{"process local", channel.CreateOptions{Lifetime: state.LifetimeTemporary, Scope: state.ScopeProcess}, state.OwnershipProcessLocal},
		{"permanent", channel.CreateOptions{Lifetime: state.LifetimePermanent, Scope: state.ScopeMachine}, state.OwnershipPermanent},
		{"persisted", channel.CreateOptions{Lifetime: state.LifetimeTemporary, PersistData: true}, state.OwnershipPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := p.Create(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Ownership)
			assert.True(t, h.Owned())
		})
	}
}

func TestProcess_ReadWrite(t *testing.T) {
	p, _ := newProcess(t)
	ctx := t.Context()

	h, err := p.CreateTemporary(ctx)
	require.NoError(t, err)

	stamp, err := p.Write(ctx, h, []byte("one"))
	require.NoError(t, err)
	require.Equal(t, state.Stamp(1), stamp)

	snap, err := p.Read(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), snap.Data)
	assert.Equal(t, state.Stamp(1), snap.Stamp)

	last, ok := p.Ledger().Last(h.Name)
	require.True(t, ok)
	assert.Equal(t, state.Stamp(1), last)
}

func TestProcess_ReadIfChanged(t *testing.T) {
	p, ch := newProcess(t)
	ctx := t.Context()

	h, err := p.CreateTemporary(ctx)
	require.NoError(t, err)

	snap, changed, err := p.ReadIfChanged(ctx, h)
	require.NoError(t, err)
	assert.True(t, changed, "first read is always a change")
	assert.Equal(t, state.Stamp(0), snap.Stamp)

	_, changed, err = p.ReadIfChanged(ctx, h)
	require.NoError(t, err)
	assert.False(t, changed)

	// a write through the channel bypasses the ledger
	_, err = ch.Write(ctx, h.Name, []byte("x"), nil)
	require.NoError(t, err)

	snap, changed, err = p.ReadIfChanged(ctx, h)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []byte("x"), snap.Data)
	assert.Equal(t, state.Stamp(1), snap.Stamp)

	snap, changed, err = p.ReadIfChanged(ctx, h)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, snap.Data)
	assert.Equal(t, state.Stamp(1), snap.Stamp)
}

func TestProcess_Update(t *testing.T) {
	p, _ := newProcess(t)
	ctx := t.Context()

	h, err := p.CreateTemporary(ctx)
	require.NoError(t, err)

	stamp, ok, err := p.Update(ctx, h, []byte("a"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state.Stamp(1), stamp)

	_, ok, err = p.Update(ctx, h, []byte("b"), 0)
	require.NoError(t, err)
	require.False(t, ok)

	snap, err := p.Read(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), snap.Data)
}

func TestProcess_WellKnown(t *testing.T) {
	p, _ := newProcess(t)
	ctx := t.Context()

	h, err := p.CreateWellKnown(ctx, "process.test.wellknown")
	require.NoError(t, err)
	assert.False(t, h.Owned())

	again, err := p.CreateWellKnown(ctx, "process.test.wellknown")
	require.NoError(t, err)
	assert.True(t, h.Equal(again))

	opened := p.Open(state.WellKnownName("process.test.wellknown"))
	assert.True(t, opened.Equal(h))

	_, err = p.Write(ctx, opened, []byte("shared"))
	require.NoError(t, err)

	err = p.Delete(ctx, opened)
	require.ErrorIs(t, err, state.ErrNotOwned)

	ok, err := p.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_DeleteAndExists(t *testing.T) {
	p, _ := newProcess(t)
	ctx := t.Context()

	h, err := p.CreateTemporary(ctx)
	require.NoError(t, err)
	_, err = p.Read(ctx, h)
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, h))

	ok, err := p.Exists(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, known := p.Ledger().Last(h.Name)
	assert.False(t, known)

	_, err = p.Read(ctx, h)
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestProcess_SubscribersAndQuiescence(t *testing.T) {
	p, _ := newProcess(t)
	ctx := t.Context()

	h, err := p.CreateTemporary(ctx)
	require.NoError(t, err)

	quiet, err := p.IsQuiescent(ctx, h)
	require.NoError(t, err)
	assert.True(t, quiet)

	got := make(chan state.Stamp, 1)
	sub, err := p.Subscribe(ctx, h, notify.ListenerFunc(func(d *notify.Delivery) error {
		got <- d.Stamp()
		return nil
	}))
	require.NoError(t, err)

	present, err := p.SubscribersPresent(ctx, h)
	require.NoError(t, err)
	assert.True(t, present)

	quiet, err = p.IsQuiescent(ctx, h)
	require.NoError(t, err)
	assert.False(t, quiet)

	_, err = p.Write(ctx, h, []byte("ping"))
	require.NoError(t, err)
	select {
	case s := <-got:
		assert.Equal(t, state.Stamp(1), s)
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}

	require.NoError(t, sub.Unsubscribe(ctx))
	present, err = p.SubscribersPresent(ctx, h)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestProcess_CloseDeletesProcessLocal(t *testing.T) {
	ch := memory.New()
	defer ch.Close()
	ctx := t.Context()

	p, err := process.New(process.Config{Channel: ch})
	require.NoError(t, err)

	local, err := p.CreateTemporary(ctx)
	require.NoError(t, err)
	shared, err := p.Create(ctx, channel.CreateOptions{Lifetime: state.LifetimeTemporary, Scope: state.ScopeUser})
	require.NoError(t, err)

	_, err = p.Subscribe(ctx, shared, notify.ListenerFunc(func(*notify.Delivery) error { return nil }))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Zero(t, p.Registry().Stats().Active)

	info, err := ch.Info(ctx, local.Name)
	require.NoError(t, err)
	assert.False(t, info.Exists)

	info, err = ch.Info(ctx, shared.Name)
	require.NoError(t, err)
	assert.True(t, info.Exists)

	_, err = p.Read(ctx, shared)
	require.ErrorIs(t, err, process.ErrClosed)
}

func TestProcess_KeepProcessLocal(t *testing.T) {
	ch := memory.New()
	defer ch.Close()
	ctx := t.Context()

	p, err := process.New(process.Config{Channel: ch, KeepProcessLocal: true})
	require.NoError(t, err)
	h, err := p.CreateTemporary(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	info, err := ch.Info(ctx, h.Name)
	require.NoError(t, err)
	assert.True(t, info.Exists)
}
