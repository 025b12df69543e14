package identity

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/localnet-go/internal/storage"
)

type seqSource struct{ ints []int }

func (s *seqSource) Float64() float64   { return 0 }
func (s *seqSource) Int64N(int64) int64 { return 0 }
func (s *seqSource) IntN(n int) int {
	v := s.ints[0] % n
	s.ints = append(s.ints[1:], s.ints[0])
	return v
}

type failingStore struct{ storage.Store }

func (failingStore) Get(context.Context, string) (string, error) { return "", errors.New("disk gone") }
func (failingStore) Set(context.Context, string, string) error   { return errors.New("disk gone") }

var namePattern = regexp.MustCompile(`^User_[0-9a-z]{5}$`)

func TestGetOrCreate_GeneratesAndPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	id := New(store, WithRandom(&seqSource{ints: []int{10, 11, 12, 1, 35}}))

	name := id.GetOrCreate(ctx)
	require.Equal(t, "User_abc1z", name)

	persisted, err := store.Get(ctx, StorageKey)
	require.NoError(t, err)
	require.Equal(t, name, persisted)
}

func TestGetOrCreate_Memoized(t *testing.T) {
	ctx := context.Background()
	id := New(storage.NewMemory())

	first := id.GetOrCreate(ctx)
	require.Regexp(t, namePattern, first)
	require.Equal(t, first, id.GetOrCreate(ctx))
}

func TestGetOrCreate_ReusesPersistedName(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	first := New(store).GetOrCreate(ctx)
	// a new process sees the same store
	second := New(store).GetOrCreate(ctx)
	require.Equal(t, first, second)
}

func TestGetOrCreate_StoreFailureDegrades(t *testing.T) {
	ctx := context.Background()
	id := New(failingStore{})

	name := id.GetOrCreate(ctx)
	require.Regexp(t, namePattern, name)
	require.Equal(t, name, id.GetOrCreate(ctx))
}
