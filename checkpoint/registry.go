package checkpoint

import (
	"encoding/binary"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/streamit/streamit/services/storage"
)

// Registry records the iteration each thread restarts from.
// Zero means the thread starts fresh.
type Registry interface {
	StartIteration(thread int) (uint64, error)
	SetStartIteration(thread int, iteration uint64) error
	// Threads returns the start iteration of every recorded thread.
	Threads() (map[int]uint64, error)
	// Reset forgets thread and reports whether it was recorded.
	Reset(thread int) (bool, error)
}

const threadPrefix = "thread/"

// StoreRegistry keeps start iterations in a storage namespace.
type StoreRegistry struct {
	store storage.Interface
}

func NewStoreRegistry(store storage.Interface) *StoreRegistry {
	return &StoreRegistry{store: store}
}

func threadKey(thread int) string {
	return threadPrefix + strconv.Itoa(thread)
}

func (r *StoreRegistry) StartIteration(thread int) (uint64, error) {
	kv, err := r.store.Get(threadKey(thread))
	if err == storage.ErrNoKeyExists {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "start iteration of thread %d", thread)
	}
	if len(kv.Value) != 8 {
		return 0, errors.Wrapf(ErrCorrupt, "start iteration of thread %d has %d bytes", thread, len(kv.Value))
	}
	return binary.LittleEndian.Uint64(kv.Value), nil
}

func (r *StoreRegistry) SetStartIteration(thread int, iteration uint64) error {
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], iteration)
	err := r.store.Update(func(tx storage.Tx) error {
		if iteration == 0 {
			return tx.Delete(threadKey(thread))
		}
		return tx.Put(threadKey(thread), v[:])
	})
	return errors.Wrapf(err, "set start iteration of thread %d", thread)
}

func (r *StoreRegistry) Reset(thread int) (existed bool, err error) {
	err = r.store.Update(func(tx storage.Tx) error {
		key := threadKey(thread)
		if existed, err = tx.Exists(key); err != nil || !existed {
			return err
		}
		return tx.Delete(key)
	})
	return existed, errors.Wrapf(err, "reset thread %d", thread)
}

func (r *StoreRegistry) Threads() (map[int]uint64, error) {
	kvs, err := r.store.List(threadPrefix)
	if err != nil {
		return nil, err
	}
	threads := make(map[int]uint64, len(kvs))
	for _, kv := range kvs {
		id, err := strconv.Atoi(kv.Key[len(threadPrefix):])
		if err != nil || len(kv.Value) != 8 {
			return nil, errors.Wrapf(ErrCorrupt, "registry key %q", kv.Key)
		}
		threads[id] = binary.LittleEndian.Uint64(kv.Value)
	}
	return threads, nil
}

// MemRegistry is a Registry that lives only as long as the process.
type MemRegistry struct {
	mu    sync.Mutex
	iters map[int]uint64
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{iters: make(map[int]uint64)}
}

func (r *MemRegistry) StartIteration(thread int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iters[thread], nil
}

func (r *MemRegistry) SetStartIteration(thread int, iteration uint64) error {
	r.mu.Lock()
	if iteration == 0 {
		delete(r.iters, thread)
	} else {
		r.iters[thread] = iteration
	}
	r.mu.Unlock()
	return nil
}

func (r *MemRegistry) Threads() (map[int]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	threads := make(map[int]uint64, len(r.iters))
	for id, iter := range r.iters {
		threads[id] = iter
	}
	return threads, nil
}

func (r *MemRegistry) Reset(thread int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.iters[thread]
	delete(r.iters, thread)
	return ok, nil
}
