// Package jsonfile holds file-backed stores used outside the coordinator
// database: process leases and the watched tasks file.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/colonyops/crew/internal/core/lease"
)

const leaseExt = ".json"

// errUndecodable marks a lease file whose contents are not a lease record.
var errUndecodable = errors.New("undecodable lease file")

// LeaseStore implements lease.Store with one JSON file per lease. The name
// "bot:default" is stored as bot-default.json.
type LeaseStore struct {
	dir string
	mu  sync.RWMutex
}

// NewLeaseStore creates a lease store rooted at dir.
func NewLeaseStore(dir string) *LeaseStore {
	return &LeaseStore{dir: dir}
}

// Dir returns the directory leases are written to.
func (s *LeaseStore) Dir() string {
	return s.dir
}

// Path returns the marker file for a lease name.
func (s *LeaseStore) Path(name string) string {
	return filepath.Join(s.dir, fileName(name))
}

func fileName(name string) string {
	r := strings.NewReplacer(":", "-", "/", "_", string(filepath.Separator), "_")
	return r.Replace(name) + leaseExt
}

// Get returns the named lease or lease.ErrNotFound. A file that does not
// decode comes back as a malformed lease carrying only the name, which
// acquirers treat as stale.
func (s *LeaseStore) Get(ctx context.Context, name string) (lease.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, err := s.load(s.Path(name))
	if errors.Is(err, errUndecodable) {
		return lease.Lease{Name: name}, nil
	}
	return l, err
}

// Put writes l atomically.
func (s *LeaseStore) Put(ctx context.Context, l lease.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}

	path := s.Path(l.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Delete removes the named lease. A missing file is not an error.
func (s *LeaseStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns every lease in the directory ordered by name. Unreadable
// files come back as malformed leases named after the file so callers can
// clean them up.
func (s *LeaseStore) List(ctx context.Context) ([]lease.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []lease.Lease
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), leaseExt) {
			continue
		}
		l, err := s.load(filepath.Join(s.dir, e.Name()))
		if err != nil {
			if errors.Is(err, lease.ErrNotFound) {
				continue
			}
			l = lease.Lease{Name: strings.TrimSuffix(e.Name(), leaseExt)}
		}
		out = append(out, l)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// load reads one lease file. Empty files count as missing.
func (s *LeaseStore) load(path string) (lease.Lease, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lease.Lease{}, lease.ErrNotFound
		}
		return lease.Lease{}, err
	}

	if len(data) == 0 {
		return lease.Lease{}, lease.ErrNotFound
	}

	var l lease.Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return lease.Lease{}, fmt.Errorf("%w %s: %w", errUndecodable, filepath.Base(path), err)
	}
	return l, nil
}

var _ lease.Store = (*LeaseStore)(nil)
