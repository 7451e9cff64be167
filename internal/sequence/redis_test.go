package sequence

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisAllocator(t *testing.T) (*RedisAllocator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &RedisAllocator{Client: client, MaxAttempts: 100}, mr
}

func TestRedisAllocatorNext(t *testing.T) {
	a, mr := newRedisAllocator(t)
	ctx := context.Background()

	first, err := a.Next(ctx, Sales)
	require.NoError(t, err)
	require.Equal(t, "000001", first)

	require.NoError(t, mr.Set("sequence:"+Presales, "9"))
	next, err := a.Next(ctx, Presales)
	require.NoError(t, err)
	require.Equal(t, "000010", next)

	got, err := mr.Get("sequence:" + Presales)
	require.NoError(t, err)
	require.Equal(t, "10", got)
}

func TestRedisAllocatorConcurrent(t *testing.T) {
	a, _ := newRedisAllocator(t)
	ctx := context.Background()

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
		errs    = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := a.Next(ctx, Sales)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			numbers = append(numbers, number)
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	sort.Strings(numbers)
	require.Len(t, numbers, n)
	for i, number := range numbers {
		require.Equal(t, Format(int64(i+1), DefaultWidth), number)
	}
}
