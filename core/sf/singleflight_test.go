package sf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroup_Dedup(t *testing.T) {
	var (
		g       Group[int]
		calls   atomic.Int32
		release = make(chan struct{})
		entered = make(chan struct{})
	)

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := g.Do("k", func() (int, error) {
				if calls.Add(1) == 1 {
					close(entered)
				}
				<-release
				return 42, nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}

	<-entered
	close(release)
	wg.Wait()

	for _, v := range results {
		require.Equal(t, 42, v)
	}
	require.LessOrEqual(t, calls.Load(), int32(5))
	require.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestGroup_Error(t *testing.T) {
	var g Group[string]
	boom := errors.New("boom")
	v, _, err := g.Do("k", func() (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
	require.Empty(t, v)
}

func TestGroup_DoChanCallerLeaves(t *testing.T) {
	var g Group[int]
	release := make(chan struct{})
	entered := make(chan struct{})

	first := g.DoChan("k", func() (int, error) {
		close(entered)
		<-release
		return 7, nil
	})
	<-entered
	second := g.DoChan("k", func() (int, error) { return -1, nil })

	// The first caller gives up; the call keeps running for the second.
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	select {
	case <-first:
		t.Fatal("result before release")
	case <-ctx.Done():
	}

	close(release)
	select {
	case r := <-second:
		require.NoError(t, r.Err)
		require.Equal(t, 7, r.Val)
		require.True(t, r.Shared)
	case <-time.After(time.Second):
		t.Fatal("shared call never finished")
	}
}

func TestGroup_Forget(t *testing.T) {
	var g Group[int]
	release := make(chan struct{})
	entered := make(chan struct{})

	stale := g.DoChan("k", func() (int, error) {
		close(entered)
		<-release
		return 1, nil
	})
	<-entered
	g.Forget("k")

	v, shared, err := g.Do("k", func() (int, error) { return 2, nil })
	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, 2, v)

	close(release)
	require.Equal(t, 1, (<-stale).Val)
}
