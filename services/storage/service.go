package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type Diagnostic interface {
	Opened(path string)
	Error(msg string, err error)
}

// Service owns the bolt database and hands out namespaced stores.
type Service struct {
	dbpath string

	boltdb *bolt.DB
	stores map[string]Interface
	mu     sync.Mutex

	diag Diagnostic
}

func NewService(conf Config, d Diagnostic) *Service {
	return &Service{
		dbpath: conf.BoltDBPath,
		diag:   d,
		stores: make(map[string]Interface),
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.MkdirAll(filepath.Dir(s.dbpath), 0755)
	if err != nil {
		return errors.Wrapf(err, "mkdir dirs %q", s.dbpath)
	}
	db, err := bolt.Open(s.dbpath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		if s.diag != nil {
			s.diag.Error("failed to open boltdb", err)
		}
		return errors.Wrapf(err, "open boltdb @ %q", s.dbpath)
	}
	s.boltdb = db
	if s.diag != nil {
		s.diag.Opened(s.dbpath)
	}
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boltdb != nil {
		err := s.boltdb.Close()
		s.boltdb = nil
		if err != nil {
			if s.diag != nil {
				s.diag.Error("failed to close boltdb", err)
			}
			return errors.Wrapf(err, "close boltdb @ %q", s.dbpath)
		}
	}
	return nil
}

// Store returns a namespaced store.
// Calling Store with the same namespace returns the same Store.
func (s *Service) Store(name string) Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores[name]; ok {
		return store
	}
	store := NewBolt(s.boltdb, name)
	s.stores[name] = store
	return store
}
