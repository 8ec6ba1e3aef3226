/*
 Package diagnostic turns the Diagnostic callbacks of the runtime packages
 into structured log entries.

 The Service owns the root zap logger and its output, each New*Handler method
 returns a handler scoped with a component field.
*/
package diagnostic

import (
	"io"
	"os"
	"path"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type WriteSyncer interface {
	io.Writer
	Sync() error
}

type Service struct {
	c      Config
	stdout WriteSyncer
	stderr WriteSyncer
	closer io.Closer
	level  zap.AtomicLevel

	root *zap.Logger
}

func NewService(c Config, stdout, stderr WriteSyncer) *Service {
	return &Service{
		c:      c,
		stdout: stdout,
		stderr: stderr,
		level:  zap.NewAtomicLevel(),
		root:   zap.NewNop(),
	}
}

// NewServiceWithLogger returns a service logging through l, Open and Close do nothing.
func NewServiceWithLogger(l *zap.Logger) *Service {
	return &Service{
		level: zap.NewAtomicLevel(),
		root:  l,
	}
}

func (s *Service) Open() error {
	if s.stdout == nil && s.stderr == nil {
		return nil
	}
	var output WriteSyncer
	switch s.c.File {
	case "STDERR":
		output = s.stderr
	case "STDOUT":
		output = s.stdout
	default:
		dir := path.Dir(s.c.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "create log dir %s", dir)
		}
		f, err := os.OpenFile(s.c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		output = f
		s.closer = f
	}

	if err := s.SetLevel(s.c.Level); err != nil {
		return err
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	s.root = zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.Lock(output),
		s.level,
	))
	return nil
}

func (s *Service) Close() error {
	_ = s.root.Sync()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Service) SetLevel(level string) error {
	l, err := parseLevel(level)
	if err != nil {
		return err
	}
	s.level.SetLevel(l)
	return nil
}

func (s *Service) Logger() *zap.Logger {
	return s.root
}

func (s *Service) NewGraphHandler() *GraphHandler {
	return &GraphHandler{l: s.root.With(zap.String("service", "graph"))}
}

func (s *Service) NewTransportHandler() *TransportHandler {
	return &TransportHandler{l: s.root.With(zap.String("service", "transport"))}
}

func (s *Service) NewCheckpointHandler() *CheckpointHandler {
	return &CheckpointHandler{l: s.root.With(zap.String("service", "checkpoint"))}
}

func (s *Service) NewStorageHandler() *StorageHandler {
	return &StorageHandler{l: s.root.With(zap.String("service", "storage"))}
}

func (s *Service) NewClusterHandler(machine string) *ClusterHandler {
	return &ClusterHandler{l: s.root.With(zap.String("service", "cluster"), zap.String("machine", machine))}
}
