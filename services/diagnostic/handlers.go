package diagnostic

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Graph handler

type GraphHandler struct {
	l *zap.Logger
}

func (h *GraphHandler) Initialized(graph string, nodes, tapes int) {
	h.l.Info("initialized graph", zap.String("graph", graph), zap.Int("nodes", nodes), zap.Int("tapes", tapes))
}

func (h *GraphHandler) Failed(graph, node string, err error) {
	h.l.Error("node failed", zap.String("graph", graph), zap.String("node", node), zap.Error(err))
}

func (h *GraphHandler) TornDown(graph string, iteration uint64) {
	h.l.Info("tore down graph", zap.String("graph", graph), zap.Uint64("iteration", iteration))
}

// Transport handler

type TransportHandler struct {
	l *zap.Logger
}

func (h *TransportHandler) Configured(queue string, bufferSize, poolSize, capacity int) {
	h.l.Debug("configured queue",
		zap.String("queue", queue),
		zap.String("buffer_size", humanize.Bytes(uint64(bufferSize))),
		zap.Int("pool_size", poolSize),
		zap.Int("capacity", capacity),
	)
}

func (h *TransportHandler) Closed(queue string, inFlight int) {
	h.l.Debug("closed queue", zap.String("queue", queue), zap.Int("in_flight", inFlight))
}

// Checkpoint handler

type CheckpointHandler struct {
	l *zap.Logger
}

func (h *CheckpointHandler) Saved(thread int, iteration uint64, size int) {
	h.l.Info("saved checkpoint",
		zap.Int("thread", thread),
		zap.Uint64("iteration", iteration),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
}

func (h *CheckpointHandler) Loaded(thread int, iteration uint64, size int) {
	h.l.Debug("loaded checkpoint",
		zap.Int("thread", thread),
		zap.Uint64("iteration", iteration),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
}

func (h *CheckpointHandler) Resumed(thread int, iteration uint64) {
	h.l.Info("resuming thread from checkpoint", zap.Int("thread", thread), zap.Uint64("iteration", iteration))
}

func (h *CheckpointHandler) Fresh(thread int) {
	h.l.Info("no checkpoint, starting thread fresh", zap.Int("thread", thread))
}

func (h *CheckpointHandler) Pruned(thread int, iteration uint64) {
	h.l.Debug("pruned checkpoint", zap.Int("thread", thread), zap.Uint64("iteration", iteration))
}

// Storage handler

type StorageHandler struct {
	l *zap.Logger
}

func (h *StorageHandler) Opened(path string) {
	h.l.Info("opened store", zap.String("path", path))
}

func (h *StorageHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Cluster handler

type ClusterHandler struct {
	l *zap.Logger
}

func (h *ClusterHandler) Listening(addr string) {
	h.l.Info("listening for edges", zap.String("addr", addr))
}

func (h *ClusterHandler) EdgeConnected(edge int32, remote string) {
	h.l.Debug("edge connected", zap.Int32("edge", edge), zap.String("remote", remote))
}

func (h *ClusterHandler) ThreadStarted(thread int, iteration uint64) {
	h.l.Info("thread started", zap.Int("thread", thread), zap.Uint64("iteration", iteration))
}

func (h *ClusterHandler) ThreadStopped(thread int, iteration uint64, err error) {
	if err != nil {
		h.l.Error("thread stopped", zap.Int("thread", thread), zap.Uint64("iteration", iteration), zap.Error(err))
		return
	}
	h.l.Info("thread stopped", zap.Int("thread", thread), zap.Uint64("iteration", iteration))
}

func (h *ClusterHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}
