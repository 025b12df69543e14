// Package identity resolves the local display name once per process and
// keeps it stable across restarts through the key-value store.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/comigor/localnet-go/internal/logger"
	"github.com/comigor/localnet-go/internal/random"
	"github.com/comigor/localnet-go/internal/storage"
)

// StorageKey is the key the display name is persisted under.
const StorageKey = "localnet_username"

const (
	namePrefix = "User_"
	nameLength = 5
	alphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Identity memoizes the session display name.
type Identity struct {
	store storage.Store
	rnd   random.Source

	mu   sync.Mutex
	name string
}

type Option func(*Identity)

// WithRandom sets the source used to generate new names.
func WithRandom(src random.Source) Option {
	return func(i *Identity) { i.rnd = src }
}

// New creates an Identity backed by store.
func New(store storage.Store, opts ...Option) *Identity {
	i := &Identity{store: store, rnd: random.New()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// GetOrCreate returns the persisted name, generating and persisting one on
// first use. Store failures are logged and the name is kept in memory only.
func (i *Identity) GetOrCreate(ctx context.Context) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.name != "" {
		return i.name
	}

	name, err := i.store.Get(ctx, StorageKey)
	switch {
	case err == nil && name != "":
		i.name = name
		return name
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		logger.L.Warn("reading display name failed; generating a new one", "error", err)
	}

	name = i.generate()
	if err := i.store.Set(ctx, StorageKey, name); err != nil {
		logger.L.Warn("persisting display name failed; name will not survive a restart", "error", err)
	}
	logger.L.Info("display name created", "name", name)
	i.name = name
	return name
}

func (i *Identity) generate() string {
	var b strings.Builder
	b.WriteString(namePrefix)
	for n := 0; n < nameLength; n++ {
		b.WriteByte(alphabet[i.rnd.IntN(len(alphabet))])
	}
	return b.String()
}
