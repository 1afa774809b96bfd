// Package chain layers an environment override over a persistent
// credential store.
package chain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/ports"
)

type lookupFunc func(key string) (string, bool)

// Store answers Get from an environment variable named after the ref when
// one is set, and from the persistent store otherwise. Writes always go to
// the persistent store.
type Store struct {
	prefix     string
	lookup     lookupFunc
	persistent ports.CredentialStore
}

var _ ports.CredentialStore = (*Store)(nil)

var errNilPersistentStore = errors.New("persistent credential store is nil")

func NewStore(prefix string, persistent ports.CredentialStore) (*Store, error) {
	if persistent == nil {
		return nil, errNilPersistentStore
	}
	return &Store{prefix: prefix, lookup: os.LookupEnv, persistent: persistent}, nil
}

// EnvName maps a ref such as "sink/token" to NB_SINK_TOKEN for prefix "NB".
func (s *Store) EnvName(ref string) string {
	name := strings.ToUpper(strings.TrimSpace(ref))
	name = strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
	if s.prefix == "" {
		return name
	}
	return s.prefix + "_" + name
}

func (s *Store) Get(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if value, ok := s.lookup(s.EnvName(ref)); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}

	value, err := s.persistent.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", fmt.Errorf("credential %q not in %s or store: %w", ref, s.EnvName(ref), err)
		}
		return "", err
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, ref string, value string) error {
	return s.persistent.Put(ctx, ref, value)
}

func (s *Store) Delete(ctx context.Context, ref string) error {
	return s.persistent.Delete(ctx, ref)
}
