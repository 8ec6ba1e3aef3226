package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemStore is an in memory only implementation of the storage.Interface.
type MemStore struct {
	mu    sync.Mutex
	Name  string
	store map[string][]byte
}

func NewMemStore(name string) *MemStore {
	return &MemStore{
		Name:  name,
		store: make(map[string][]byte),
	}
}

func (s *MemStore) Put(key string, value []byte) error {
	s.mu.Lock()
	s.store[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Get(key string) (*KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memTx(s.store).Get(key)
}

func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.store, key)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Exists(key string) (bool, error) {
	s.mu.Lock()
	_, ok := s.store[key]
	s.mu.Unlock()
	return ok, nil
}

func (s *MemStore) List(prefix string) ([]*KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memTx(s.store).List(prefix)
}

// Update applies f to a copy of the store, the copy replaces the store only if f succeeds.
func (s *MemStore) Update(f func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	store := make(map[string][]byte, len(s.store))
	for k, v := range s.store {
		store[k] = v
	}
	if err := f(memTx(store)); err != nil {
		return err
	}
	s.store = store
	return nil
}

type memTx map[string][]byte

func (t memTx) Get(key string) (*KeyValue, error) {
	value, ok := t[key]
	if !ok {
		return nil, ErrNoKeyExists
	}
	return &KeyValue{Key: key, Value: append([]byte(nil), value...)}, nil
}

func (t memTx) Exists(key string) (bool, error) {
	_, ok := t[key]
	return ok, nil
}

func (t memTx) List(prefix string) ([]*KeyValue, error) {
	kvs := make([]*KeyValue, 0, len(t))
	for k, v := range t {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, &KeyValue{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, nil
}

func (t memTx) Put(key string, value []byte) error {
	t[key] = append([]byte(nil), value...)
	return nil
}

func (t memTx) Delete(key string) error {
	delete(t, key)
	return nil
}
