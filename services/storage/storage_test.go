package storage_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/streamit/streamit/services/storage"
	bolt "go.etcd.io/bbolt"
)

// Error used to specifically trigger a rollback for tests.
var errRollback = errors.New("rollback")

type createStoreCloser func(t *testing.T) storeCloser

// stores is a map of all storage implementations,
// each test will be run against the stores found in this map.
var stores = map[string]createStoreCloser{
	"bolt": newBolt,
	"mem":  newMemStore,
}

type storeCloser interface {
	Store(namespace string) storage.Interface
	Close()
}

type boltDB struct {
	db *bolt.DB
}

func (b boltDB) Close() {
	b.db.Close()
}

func newBolt(t *testing.T) storeCloser {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "bolt.db"), 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	return boltDB{db: db}
}

func (b boltDB) Store(bucket string) storage.Interface {
	return storage.NewBolt(b.db, bucket)
}

type memStore struct {
	stores map[string]storage.Interface
}

func newMemStore(t *testing.T) storeCloser {
	return memStore{
		stores: make(map[string]storage.Interface),
	}
}

func (s memStore) Store(name string) storage.Interface {
	m, ok := s.stores[name]
	if ok {
		return m
	}
	m = storage.NewMemStore(name)
	s.stores[name] = m
	return m
}

func (s memStore) Close() {
}

func TestStorage_CRUD(t *testing.T) {
	for name, sc := range stores {
		t.Run(name, func(t *testing.T) {
			db := sc(t)
			defer db.Close()

			s := db.Store("crud")
			err := s.Update(func(tx storage.Tx) error {
				key := "key0"
				value := []byte("test value")
				if exists, err := tx.Exists(key); err != nil {
					t.Fatal(err)
				} else if exists {
					t.Fatal("expected key to not exist")
				}
				if err := tx.Put(key, value); err != nil {
					t.Fatal(err)
				}
				got, err := tx.Get(key)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got.Value, value) {
					t.Fatalf("unexpected value got %q exp %q", string(got.Value), string(value))
				}
				if err := tx.Delete(key); err != nil {
					t.Fatal(err)
				}
				if exists, err := tx.Exists(key); err != nil {
					t.Fatal(err)
				} else if exists {
					t.Fatal("expected key to not exist after delete")
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestStorage_GetMissing(t *testing.T) {
	for name, sc := range stores {
		t.Run(name, func(t *testing.T) {
			db := sc(t)
			defer db.Close()

			s := db.Store("missing")
			if _, err := s.Get("nope"); err != storage.ErrNoKeyExists {
				t.Fatalf("unexpected error: got %v exp %v", err, storage.ErrNoKeyExists)
			}
			if err := s.Delete("nope"); err != nil {
				t.Fatalf("delete of missing key: %v", err)
			}
		})
	}
}

func TestStorage_Update_Rollback(t *testing.T) {
	for name, sc := range stores {
		t.Run(name, func(t *testing.T) {
			db := sc(t)
			defer db.Close()

			s := db.Store("rollback")
			value := []byte("test value")
			if err := s.Put("key0", value); err != nil {
				t.Fatal(err)
			}

			err := s.Update(func(tx storage.Tx) error {
				if err := tx.Put("key0", []byte("overridden value is rolledback")); err != nil {
					return err
				}
				return errRollback
			})
			if err != errRollback {
				t.Fatalf("unexpected error: got %v exp %v", err, errRollback)
			}

			got, err := s.Get("key0")
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got.Value, value) {
				t.Errorf("unexpected value got %q exp %q", string(got.Value), string(value))
			}
		})
	}
}

func TestStorage_List(t *testing.T) {
	for name, sc := range stores {
		t.Run(name, func(t *testing.T) {
			db := sc(t)
			defer db.Close()

			s := db.Store("list")
			for _, k := range []string{"thread/2", "thread/0", "other/0", "thread/1"} {
				if err := s.Put(k, []byte(k)); err != nil {
					t.Fatal(err)
				}
			}
			kvs, err := s.List("thread/")
			if err != nil {
				t.Fatal(err)
			}
			exp := []string{"thread/0", "thread/1", "thread/2"}
			if len(kvs) != len(exp) {
				t.Fatalf("unexpected number of keys got %d exp %d", len(kvs), len(exp))
			}
			for i, kv := range kvs {
				if kv.Key != exp[i] || string(kv.Value) != exp[i] {
					t.Errorf("unexpected key value at %d got %s=%q exp %s", i, kv.Key, kv.Value, exp[i])
				}
			}
		})
	}
}

func TestService_Store(t *testing.T) {
	conf := storage.NewConfig()
	conf.BoltDBPath = filepath.Join(t.TempDir(), "sub", "streamit.db")
	s := storage.NewService(conf, nil)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	a := s.Store("a")
	if a != s.Store("a") {
		t.Error("expected the same store for the same namespace")
	}
	if err := a.Put("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if exists, err := s.Store("b").Exists("k"); err != nil {
		t.Fatal(err)
	} else if exists {
		t.Error("expected namespaces to be isolated")
	}
}

type recordingDiag struct {
	opened []string
	errors []string
}

func (d *recordingDiag) Opened(path string) { d.opened = append(d.opened, path) }

func (d *recordingDiag) Error(msg string, err error) {
	d.errors = append(d.errors, msg+": "+err.Error())
}

func TestService_Diagnostics(t *testing.T) {
	dir := t.TempDir()
	d := new(recordingDiag)

	conf := storage.NewConfig()
	conf.BoltDBPath = filepath.Join(dir, "streamit.db")
	s := storage.NewService(conf, d)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(d.opened) != 1 || d.opened[0] != conf.BoltDBPath {
		t.Errorf("unexpected opened paths %v", d.opened)
	}
	if len(d.errors) != 0 {
		t.Errorf("unexpected errors %v", d.errors)
	}

	// a directory cannot be opened as a database
	conf.BoltDBPath = dir
	s = storage.NewService(conf, d)
	if err := s.Open(); err == nil {
		s.Close()
		t.Fatal("expected error opening a directory")
	}
	if len(d.errors) != 1 || !strings.HasPrefix(d.errors[0], "failed to open boltdb: ") {
		t.Errorf("unexpected errors %v", d.errors)
	}
}
