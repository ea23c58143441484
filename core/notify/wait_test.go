package notify_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/state"
)

func atLeast(n int) notify.Predicate[int] {
	return func(snap state.Snapshot) (int, bool, error) {
		if len(snap.Data) == 0 {
			return 0, false, nil
		}
		v, err := strconv.Atoi(string(snap.Data))
		if err != nil {
			return 0, false, err
		}
		return v, v >= n, nil
	}
}

func TestWaitForChange_TimesOut(t *testing.T) {
	f := newFixture(t, nil)
	name := f.create(t)
	for range 5 {
		f.write(t, name, "x")
	}

	start := time.Now()
	_, err := f.reg.WaitForChange(name, 5, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, notify.ErrTimedOut)
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	require.Less(t, elapsed, time.Second)

	st := f.reg.Stats()
	require.Equal(t, uint64(1), st.Issued)
	require.Zero(t, st.Active)
	require.Zero(t, st.Unsubscribing)
	require.False(t, f.reg.SubscribersPresent(name))
}

func TestWaitForChange_Wakes(t *testing.T) {
	f := newFixture(t, nil)
	name := f.create(t)
	f.write(t, name, "a")

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.writeAsync(name, "b")
	}()

	stamp, err := f.reg.WaitForChange(name, 1, 0)
	require.NoError(t, err)
	require.Equal(t, state.Stamp(2), stamp)
	require.Zero(t, f.reg.Stats().Active)
}

func TestWaitForChange_AlreadyChanged(t *testing.T) {
	f := newFixture(t, nil)
	name := f.create(t)
	f.write(t, name, "a")
	f.write(t, name, "b")

	stamp, err := f.reg.WaitForChange(name, 1, time.Second)
	require.NoError(t, err)
	require.Equal(t, state.Stamp(2), stamp)
}

func TestWaitForChange_Missing(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.reg.WaitForChange(state.WellKnownName("notify.wait.missing"), 0, time.Second)
	require.ErrorIs(t, err, notify.ErrRegistrationFailed)
}

func TestWaitUntil_AlreadySatisfied(t *testing.T) {
	f := newFixture(t, nil)
	name := f.create(t)
	f.write(t, name, "7")

	v, err := notify.WaitUntil(f.reg, name, atLeast(5), time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, v)
	require.Zero(t, f.reg.Stats().Issued, "no transient subscription expected")
}

func TestWaitUntil_SatisfiedLater(t *testing.T) {
	f := newFixture(t, nil)
	name := f.create(t)
	f.write(t, name, "1")

	go func() {
		for i := 2; i <= 6; i++ {
			time.Sleep(10 * time.Millisecond)
			f.writeAsync(name, strconv.Itoa(i))
		}
	}()

	v, err := notify.WaitUntil(f.reg, name, atLeast(5), 5*time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, v, 5)

	st := f.reg.Stats()
	require.Zero(t, st.Active)
	require.Zero(t, st.Unsubscribing)
}

func TestWaitUntil_TimesOut(t *testing.T) {
	f := newFixture(t, nil)
	name := f.create(t)
	f.write(t, name, "1")

	_, err := notify.WaitUntil(f.reg, name, atLeast(5), 80*time.Millisecond)
	require.ErrorIs(t, err, notify.ErrTimedOut)
	require.Zero(t, f.reg.Stats().Active)
}

func TestWaitUntil_PredicateError(t *testing.T) {
	f := newFixture(t, nil)
	name := f.create(t)
	f.write(t, name, "not a number")

	_, err := notify.WaitUntil(f.reg, name, atLeast(5), time.Second)
	require.ErrorIs(t, err, strconv.ErrSyntax)
}

func TestWaitUntilBoxed(t *testing.T) {
	f := newFixture(t, nil)
	name := f.create(t)
	f.write(t, name, "3")

	checkers := []notify.Checker{
		notify.Boxed(atLeast(1)),
		notify.CheckerFunc(func(snap state.Snapshot) (any, bool, error) {
			return string(snap.Data), snap.Stamp >= 1, nil
		}),
	}
	want := []any{3, "3"}
	for i, c := range checkers {
		v, err := notify.WaitUntilBoxed(f.reg, name, c, time.Second)
		require.NoError(t, err)
		require.Equal(t, want[i], v)
	}
}

func TestWaitForChangeContext(t *testing.T) {
	t.Run("wakes", func(t *testing.T) {
		f := newFixture(t, nil)
		name := f.create(t)

		go func() {
			time.Sleep(20 * time.Millisecond)
			f.writeAsync(name, "a")
		}()

		stamp, err := f.reg.WaitForChangeContext(t.Context(), name, 0)
		require.NoError(t, err)
		require.Equal(t, state.Stamp(1), stamp)
		require.Zero(t, f.reg.Stats().Active)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t, nil)
		name := f.create(t)

		ctx, cancel := context.WithCancel(t.Context())
		time.AfterFunc(30*time.Millisecond, cancel)

		_, err := f.reg.WaitForChangeContext(ctx, name, 0)
		require.ErrorIs(t, err, context.Canceled)
		require.False(t, errors.Is(err, notify.ErrTimedOut))

		st := f.reg.Stats()
		require.Equal(t, uint64(1), st.Issued)
		require.Zero(t, st.Active)
		require.False(t, f.reg.SubscribersPresent(name))

		info, err := f.ch.Info(t.Context(), name)
		require.NoError(t, err)
		require.False(t, info.SubscribersPresent, "callback leaked in channel")
	})

	t.Run("deadline", func(t *testing.T) {
		f := newFixture(t, nil)
		name := f.create(t)

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()

		_, err := f.reg.WaitForChangeContext(ctx, name, 0)
		require.ErrorIs(t, err, notify.ErrTimedOut)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Zero(t, f.reg.Stats().Active)
	})

	t.Run("already cancelled", func(t *testing.T) {
		f := newFixture(t, nil)
		name := f.create(t)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := f.reg.WaitForChangeContext(ctx, name, 0)
		require.ErrorIs(t, err, context.Canceled)
		require.Zero(t, f.reg.Stats().Issued)
	})
}

func TestWaitUntilContext(t *testing.T) {
	t.Run("satisfied later", func(t *testing.T) {
		f := newFixture(t, nil)
		name := f.create(t)

		go func() {
			for i := 1; i <= 4; i++ {
				time.Sleep(10 * time.Millisecond)
				f.writeAsync(name, strconv.Itoa(i))
			}
		}()

		v, err := notify.WaitUntilContext(t.Context(), f.reg, name, atLeast(4))
		require.NoError(t, err)
		require.Equal(t, 4, v)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t, nil)
		name := f.create(t)
		f.write(t, name, "1")

		ctx, cancel := context.WithCancel(t.Context())
		time.AfterFunc(30*time.Millisecond, cancel)

		_, err := notify.WaitUntilContext(ctx, f.reg, name, atLeast(5))
		require.ErrorIs(t, err, context.Canceled)
		require.Zero(t, f.reg.Stats().Active)
	})

	t.Run("boxed", func(t *testing.T) {
		f := newFixture(t, nil)
		name := f.create(t)
		f.write(t, name, "9")

		v, err := notify.WaitUntilBoxedContext(t.Context(), f.reg, name, notify.Boxed(atLeast(2)))
		require.NoError(t, err)
		require.Equal(t, 9, v)
	})
}
