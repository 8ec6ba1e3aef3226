package checkpoint

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamit/streamit/bufpool"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a thread and iteration.
	// It is recoverable: the thread can start fresh.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrCorrupt is returned when a checkpoint fails header, length or checksum validation.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

const (
	magic      = "SITC"
	version    = 1
	headerSize = 24
)

type Diagnostic interface {
	Saved(thread int, iteration uint64, size int)
	Loaded(thread int, iteration uint64, size int)
	Resumed(thread int, iteration uint64)
	Fresh(thread int)
	Pruned(thread int, iteration uint64)
}

type noopDiag struct{}

func (noopDiag) Saved(int, uint64, int)  {}
func (noopDiag) Loaded(int, uint64, int) {}
func (noopDiag) Resumed(int, uint64)     {}
func (noopDiag) Fresh(int)               {}
func (noopDiag) Pruned(int, uint64)      {}

type Option func(*Store)

func WithDiagnostic(d Diagnostic) Option {
	return func(s *Store) { s.diag = d }
}

// WithRegisterer registers the store metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Store) { s.reg = r }
}

// Store writes one file per thread and iteration into a directory.
type Store struct {
	dir      string
	registry Registry
	pool     *bufpool.Pool
	diag     Diagnostic
	reg      prometheus.Registerer

	savedBytes   prometheus.Counter
	saveDuration prometheus.Histogram
}

// NewStore creates the checkpoint directory of c if needed.
// A nil registry keeps start iterations in memory.
func NewStore(c Config, r Registry, opts ...Option) (*Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Dir == "" {
		return nil, errors.New("must specify checkpoint dir")
	}
	if r == nil {
		r = NewMemRegistry()
	}
	s := &Store{
		dir:      c.Dir,
		registry: r,
		pool:     bufpool.New(),
		diag:     noopDiag{},
		savedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamit",
			Subsystem: "checkpoint",
			Name:      "saved_bytes_total",
			Help:      "Bytes of serialized state written to checkpoints.",
		}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamit",
			Subsystem: "checkpoint",
			Name:      "save_duration_seconds",
			Help:      "Time taken to serialize and write a checkpoint.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.reg != nil {
		for _, c := range []prometheus.Collector{s.savedBytes, s.saveDuration} {
			if err := s.reg.Register(c); err != nil {
				return nil, errors.Wrap(err, "register checkpoint metrics")
			}
		}
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint dir %q", s.dir)
	}
	return s, nil
}

func (s *Store) Registry() Registry { return s.registry }

// Dir returns the checkpoint directory.
func (s *Store) Dir() string { return s.dir }

func fileName(thread int, iteration uint64) string {
	return strconv.Itoa(thread) + "." + strconv.FormatUint(iteration, 10)
}

func (s *Store) path(thread int, iteration uint64) string {
	return filepath.Join(s.dir, fileName(thread, iteration))
}

// Save serializes obj and writes it as the checkpoint of thread at iteration.
// The file is written to a temporary name and renamed, so a reader never sees a partial file.
// On success the registry start iteration of the thread advances to iteration.
func (s *Store) Save(thread int, iteration uint64, obj Serializable) error {
	start := time.Now()
	payload := s.pool.Get()
	defer payload.Close()
	if err := obj.WriteObject(NewBuffer(&payload.Buffer)); err != nil {
		return errors.Wrapf(err, "serialize thread %d iteration %d", thread, iteration)
	}

	var header [headerSize]byte
	copy(header[:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint64(header[8:16], uint64(payload.Len()))
	binary.LittleEndian.PutUint64(header[16:24], xxhash.Sum64(payload.Bytes()))

	size := payload.Len()
	if err := s.writeFile(thread, iteration, header[:], payload.Bytes()); err != nil {
		return err
	}
	if err := s.registry.SetStartIteration(thread, iteration); err != nil {
		return err
	}
	s.savedBytes.Add(float64(size + headerSize))
	s.saveDuration.Observe(time.Since(start).Seconds())
	s.diag.Saved(thread, iteration, size)
	return nil
}

func (s *Store) writeFile(thread int, iteration uint64, header, payload []byte) (err error) {
	f, err := os.CreateTemp(s.dir, "."+fileName(thread, iteration)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create checkpoint file")
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(header); err != nil {
		return errors.Wrap(err, "write checkpoint header")
	}
	if _, err = f.Write(payload); err != nil {
		return errors.Wrap(err, "write checkpoint payload")
	}
	if err = f.Sync(); err != nil {
		return errors.Wrap(err, "sync checkpoint file")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint file")
	}
	if err = os.Rename(f.Name(), s.path(thread, iteration)); err != nil {
		return errors.Wrap(err, "rename checkpoint file")
	}
	return nil
}

// Load reads the checkpoint of thread at iteration into obj.
// A missing file is ErrNotFound, a file failing validation is ErrCorrupt.
func (s *Store) Load(thread int, iteration uint64, obj Serializable) error {
	data, err := os.ReadFile(s.path(thread, iteration))
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrNotFound, "thread %d iteration %d", thread, iteration)
	} else if err != nil {
		return errors.Wrapf(err, "read checkpoint thread %d iteration %d", thread, iteration)
	}
	payload, err := decode(data)
	if err != nil {
		return errors.Wrapf(err, "thread %d iteration %d", thread, iteration)
	}
	b := NewReadBuffer(payload)
	if err := obj.ReadObject(b); err != nil {
		return errors.Wrapf(err, "deserialize thread %d iteration %d", thread, iteration)
	}
	if b.Len() != 0 {
		return errors.Wrapf(ErrCorrupt, "thread %d iteration %d: %d trailing bytes", thread, iteration, b.Len())
	}
	s.diag.Loaded(thread, iteration, len(payload))
	return nil
}

func decode(data []byte) ([]byte, error) {
	if len(data) < headerSize || !bytes.Equal(data[:4], []byte(magic)) {
		return nil, errors.Wrap(ErrCorrupt, "bad header")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != version {
		return nil, errors.Wrapf(ErrCorrupt, "unsupported version %d", v)
	}
	payload := data[headerSize:]
	if n := binary.LittleEndian.Uint64(data[8:16]); n != uint64(len(payload)) {
		return nil, errors.Wrapf(ErrCorrupt, "payload is %d bytes, header says %d", len(payload), n)
	}
	if sum := binary.LittleEndian.Uint64(data[16:24]); sum != xxhash.Sum64(payload) {
		return nil, errors.Wrap(ErrCorrupt, "checksum mismatch")
	}
	return payload, nil
}

// Resume loads the checkpoint at the registered start iteration of thread.
// When the start iteration is zero nothing is loaded and resumed is false.
func (s *Store) Resume(thread int, obj Serializable) (iteration uint64, resumed bool, err error) {
	iteration, err = s.registry.StartIteration(thread)
	if err != nil {
		return 0, false, err
	}
	if iteration == 0 {
		s.diag.Fresh(thread)
		return 0, false, nil
	}
	if err := s.Load(thread, iteration, obj); err != nil {
		return 0, false, err
	}
	s.diag.Resumed(thread, iteration)
	return iteration, true, nil
}

// List returns the iterations checkpointed for thread in ascending order.
func (s *Store) List(thread int) ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list checkpoint dir %q", s.dir)
	}
	prefix := strconv.Itoa(thread) + "."
	var iters []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		iter, err := strconv.ParseUint(name[len(prefix):], 10, 64)
		if err != nil {
			continue
		}
		iters = append(iters, iter)
	}
	sort.Slice(iters, func(i, j int) bool { return iters[i] < iters[j] })
	return iters, nil
}

// Latest returns the highest iteration checkpointed for thread.
func (s *Store) Latest(thread int) (uint64, error) {
	iters, err := s.List(thread)
	if err != nil {
		return 0, err
	}
	if len(iters) == 0 {
		return 0, errors.Wrapf(ErrNotFound, "thread %d", thread)
	}
	return iters[len(iters)-1], nil
}

// Prune removes all but the newest keep checkpoints of thread.
// The checkpoint at the registered start iteration is never removed.
// It returns the number of files removed.
func (s *Store) Prune(thread int, keep int) (int, error) {
	if keep < 0 {
		return 0, errors.Errorf("invalid number of checkpoints to keep %d", keep)
	}
	iters, err := s.List(thread)
	if err != nil {
		return 0, err
	}
	start, err := s.registry.StartIteration(thread)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := 0; i < len(iters)-keep; i++ {
		if iters[i] == start {
			continue
		}
		if err := os.Remove(s.path(thread, iters[i])); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "prune thread %d iteration %d", thread, iters[i])
		}
		removed++
		s.diag.Pruned(thread, iters[i])
	}
	return removed, nil
}

// Reset removes every checkpoint of thread and forgets its start iteration,
// so the thread starts fresh. It returns the number of files removed.
func (s *Store) Reset(thread int) (int, error) {
	iters, err := s.List(thread)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, iter := range iters {
		if err := os.Remove(s.path(thread, iter)); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "reset thread %d iteration %d", thread, iter)
		}
		removed++
		s.diag.Pruned(thread, iter)
	}
	if _, err := s.registry.Reset(thread); err != nil {
		return removed, err
	}
	s.diag.Fresh(thread)
	return removed, nil
}
