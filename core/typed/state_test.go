package typed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/notify-go/adapters/memory"
	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/process"
	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/core/typed"
)

func newProcess(t *testing.T) *process.Process {
	t.Helper()
	ch := memory.New()
	t.Cleanup(func() { _ = ch.Close() })
	p, err := process.New(process.Config{Channel: ch})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newCounter(t *testing.T, p *process.Process) *typed.State[uint32] {
	t.Helper()
	s, err := typed.CreateTemporary(t.Context(), p, typed.Binary[uint32]())
	require.NoError(t, err)
	_, err = s.Set(t.Context(), 0)
	require.NoError(t, err)
	return s
}

func TestState_GetSetQuery(t *testing.T) {
	p := newProcess(t)
	ctx := t.Context()
	s := newCounter(t, p)

	stamp, err := s.Set(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, state.Stamp(2), stamp)

	v, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)

	q, err := s.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, typed.Stamped[uint32]{Value: 42, Stamp: 2}, q)
}

func TestState_EmptyBinaryIsInvalid(t *testing.T) {
	p := newProcess(t)
	s, err := typed.CreateTemporary(t.Context(), p, typed.Binary[uint32]())
	require.NoError(t, err)

	_, err = s.Get(t.Context())
	require.ErrorIs(t, err, typed.ErrInvalidData)
}

func TestState_Update(t *testing.T) {
	p := newProcess(t)
	ctx := t.Context()
	s := newCounter(t, p)

	ok, err := s.Update(ctx, 5, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Update(ctx, 6, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)
}

func TestState_ApplyConcurrent(t *testing.T) {
	p := newProcess(t)
	ctx := t.Context()
	s := newCounter(t, p)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 25 {
				_, err := s.Apply(ctx, func(v uint32) uint32 { return v + 1 })
				assert.NoError(t, err)
			}
		})
	}
	wg.Wait()

	v, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), v)
}

func TestState_TryApplyAborts(t *testing.T) {
	p := newProcess(t)
	ctx := t.Context()
	s := newCounter(t, p)

	boom := errors.New("boom")
	_, err := s.TryApply(ctx, func(uint32) (uint32, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	q, err := s.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Stamp(1), q.Stamp, "nothing written")
}

func TestState_Replace(t *testing.T) {
	p := newProcess(t)
	ctx := t.Context()
	s := newCounter(t, p)

	old, err := s.Replace(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), old)

	old, err = s.Replace(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), old)
}

func TestState_JSONWellKnown(t *testing.T) {
	type status struct {
		Phase string `json:"phase"`
	}
	p := newProcess(t)
	ctx := t.Context()

	a, err := typed.WellKnown(ctx, p, "typed.test.status", typed.JSON[status]())
	require.NoError(t, err)
	b, err := typed.WellKnown(ctx, p, "typed.test.status", typed.JSON[status]())
	require.NoError(t, err)

	v, err := a.Get(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = a.Set(ctx, status{Phase: "running"})
	require.NoError(t, err)
	v, err = b.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", v.Phase)

	require.ErrorIs(t, b.Delete(ctx), state.ErrNotOwned)
}

func TestState_Subscribe(t *testing.T) {
	p := newProcess(t)
	ctx := t.Context()
	s := newCounter(t, p)

	got := make(chan typed.Stamped[uint32], 4)
	sub, err := s.Subscribe(ctx, func(_ *notify.Delivery, v typed.Stamped[uint32]) error {
		got <- v
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe(ctx) }()

	_, err = s.Set(ctx, 3)
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.Equal(t, typed.Stamped[uint32]{Value: 3, Stamp: 2}, v)
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}
}

func TestState_Wait(t *testing.T) {
	p := newProcess(t)
	ctx := t.Context()
	s := newCounter(t, p)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.Set(context.Background(), 1)
	}()
	stamp, err := s.Wait(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, state.Stamp(2), stamp)

	_, err = s.Wait(ctx, 30*time.Millisecond)
	require.ErrorIs(t, err, notify.ErrTimedOut)
}

func TestState_WaitContext(t *testing.T) {
	p := newProcess(t)
	s := newCounter(t, p)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	_, err := s.WaitContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestState_WaitUntil(t *testing.T) {
	p := newProcess(t)
	ctx := t.Context()
	s := newCounter(t, p)

	go func() {
		for range 5 {
			time.Sleep(5 * time.Millisecond)
			_, _ = s.Apply(context.Background(), func(v uint32) uint32 { return v + 1 })
		}
	}()

	v, err := s.WaitUntil(func(v uint32) bool { return v >= 5 }, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)

	v, err = s.WaitUntilContext(ctx, func(v uint32) bool { return v == 5 })
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)

	boxed, err := s.WaitUntilBoxed(notify.Boxed(s.Predicate(func(v uint32) bool { return v > 0 })), time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), boxed)
}
