package sequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/docstore/memstore"
)

func TestFormat(t *testing.T) {
	require.Equal(t, "000001", Format(1, 6))
	require.Equal(t, "000042", Format(42, 0))
	require.Equal(t, "1234567", Format(1234567, 6))
	require.Equal(t, "0007", Format(7, 4))
}

func TestAllocatorStartsAtOneAndContinues(t *testing.T) {
	store := memstore.New()
	a := &Allocator{Store: store}
	ctx := context.Background()

	first, err := a.Next(ctx, Sales)
	require.NoError(t, err)
	require.Equal(t, "000001", first)

	require.NoError(t, store.Set(ctx, docstore.Doc(CountersCollection, Presales), map[string]any{"lastNumber": 41}))
	next, err := a.Next(ctx, Presales)
	require.NoError(t, err)
	require.Equal(t, "000042", next)

	last, err := a.Last(ctx, Presales)
	require.NoError(t, err)
	require.EqualValues(t, 42, last)

	last, err = a.Last(ctx, "unused")
	require.NoError(t, err)
	require.Zero(t, last)
}

func TestAllocatorConcurrentNumbersAreUniqueAndContiguous(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, docstore.Doc(CountersCollection, Sales), map[string]any{"lastNumber": 100}))
	a := &Allocator{Store: store}

	const n = 10
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
	want := make([]string, 0, n)
	for i := int64(101); i <= 100+n; i++ {
		want = append(want, Format(i, DefaultWidth))
	}
	require.Equal(t, want, numbers)
}

func TestAllocatorFailureWritesNothing(t *testing.T) {
	store := memstore.New()
	store.BeforeCommit = func(kind memstore.CommitKind) error {
		if kind == memstore.CommitTransaction {
			return docstore.ErrConflict
		}
		return nil
	}
	a := &Allocator{Store: store}

	_, err := a.Next(context.Background(), Sales)
	require.ErrorIs(t, err, ErrAllocation)
	require.ErrorIs(t, err, docstore.ErrAborted)
	require.Zero(t, store.Len(CountersCollection))
}

func TestAllocatorRejectsEmptyName(t *testing.T) {
	_, err := (&Allocator{Store: memstore.New()}).Next(context.Background(), "")
	require.True(t, errors.Is(err, ErrAllocation))
}
