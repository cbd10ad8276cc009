// Store composes DataLog, HashIndex and Metadata into a durable map: every
// Put appends to the data log, then the hash index, then commits the
// metadata checkpoint.
package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// Config controls a Store's on-disk sizing.
type Config struct {
	DataSegmentBytes  int64
	IndexSegmentBytes int64
	Buckets           int
	HashAlgorithm     HashAlgorithm
}

func (c Config) withDefaults() Config {
	if c.DataSegmentBytes == 0 {
		c.DataSegmentBytes = 256 * 1024 * 1024
	}
	if c.IndexSegmentBytes == 0 {
		c.IndexSegmentBytes = 16 * 1024 * 1024
	}
	if c.Buckets == 0 {
		c.Buckets = 65536
	}
	if c.HashAlgorithm == 0 {
		c.HashAlgorithm = AlgXXHash3
	}
	return c
}

// Store is a crash-safe, durable key-value map over typed values.
type Store struct {
	mu       sync.RWMutex
	dir      string
	cfg      Config
	dataLog  *DataLog
	index    *HashIndex
	metadata *Metadata
	closed   bool
	log      *zap.SugaredLogger
}

// Open opens or creates a Store rooted at dir.
func Open(dir string, cfg Config, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kv: open: %w", err)
	}

	meta, err := OpenMetadata(filepath.Join(dir, "metadata.dat"))
	if err != nil {
		return nil, fmt.Errorf("kv: open metadata: %w", err)
	}
	dl, err := OpenDataLog(filepath.Join(dir, "data"), cfg.DataSegmentBytes, log)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("kv: open data log: %w", err)
	}
	hi, err := OpenHashIndex(filepath.Join(dir, "index"), cfg.Buckets, cfg.IndexSegmentBytes, cfg.HashAlgorithm, log)
	if err != nil {
		meta.Close()
		dl.Close()
		return nil, fmt.Errorf("kv: open hash index: %w", err)
	}

	log.Infow("kv store opened", "dir", dir, "buckets", cfg.Buckets, "dataOffset", dl.CommittedOffset())
	return &Store{dir: dir, cfg: cfg, dataLog: dl, index: hi, metadata: meta, log: log}, nil
}

func (s *Store) checkOpen(op string) error {
	if s.closed {
		return verrors.New(verrors.KindShutdown, op, verrors.ErrClosed)
	}
	return nil
}

func (s *Store) commit() error {
	return s.metadata.Commit(s.dataLog.CommittedOffset(), s.index.CommittedOffset())
}

func (s *Store) put(key string, write func() (int64, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("kv.put"); err != nil {
		return err
	}
	dataOffset, err := write()
	if err != nil {
		return err
	}
	if err := s.index.Put(key, dataOffset); err != nil {
		return fmt.Errorf("kv: index put: %w", err)
	}
	return s.commit()
}

func (s *Store) PutString(key, value string) error {
	return s.put(key, func() (int64, error) { return s.dataLog.WriteString(key, value) })
}

func (s *Store) PutInt(key string, value int32) error {
	return s.put(key, func() (int64, error) { return s.dataLog.WriteInt(key, value) })
}

func (s *Store) PutFloatArray(key string, value []float32) error {
	return s.put(key, func() (int64, error) { return s.dataLog.WriteFloatArray(key, value) })
}

func (s *Store) PutFloatMatrix(key string, rows, cols int, value []float32) error {
	return s.put(key, func() (int64, error) { return s.dataLog.WriteFloatMatrix(key, rows, cols, value) })
}

func (s *Store) PutBytes(key string, value []byte) error {
	return s.put(key, func() (int64, error) { return s.dataLog.WriteBytes(key, value) })
}

// get resolves key to a Record, or (nil, nil) if absent.
func (s *Store) get(key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("kv.get"); err != nil {
		return nil, err
	}
	offset, ok, err := s.index.Lookup(key)
	if err != nil {
		return nil, fmt.Errorf("kv: lookup: %w", err)
	}
	if !ok {
		return nil, nil
	}
	rec, err := s.dataLog.Read(offset)
	if err != nil {
		if verrors.Is(err, verrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv: read: %w", err)
	}
	return rec, nil
}

func (s *Store) GetString(key string) (string, bool, error) {
	rec, err := s.get(key)
	if err != nil || rec == nil {
		return "", false, err
	}
	if rec.Type != TypeString {
		return "", false, verrors.New(verrors.KindCorruption, "kv.GetString", verrors.ErrTypeMismatch)
	}
	return rec.Str, true, nil
}

func (s *Store) GetInt(key string) (int32, bool, error) {
	rec, err := s.get(key)
	if err != nil || rec == nil {
		return 0, false, err
	}
	if rec.Type != TypeInteger {
		return 0, false, verrors.New(verrors.KindCorruption, "kv.GetInt", verrors.ErrTypeMismatch)
	}
	return rec.Int, true, nil
}

func (s *Store) GetFloatArray(key string) ([]float32, bool, error) {
	rec, err := s.get(key)
	if err != nil || rec == nil {
		return nil, false, err
	}
	if rec.Type != TypeFloatArray {
		return nil, false, verrors.New(verrors.KindCorruption, "kv.GetFloatArray", verrors.ErrTypeMismatch)
	}
	return rec.Floats, true, nil
}

func (s *Store) GetFloatMatrix(key string) ([]float32, int, int, bool, error) {
	rec, err := s.get(key)
	if err != nil || rec == nil {
		return nil, 0, 0, false, err
	}
	if rec.Type != TypeFloatMat {
		return nil, 0, 0, false, verrors.New(verrors.KindCorruption, "kv.GetFloatMatrix", verrors.ErrTypeMismatch)
	}
	return rec.Floats, rec.Rows, rec.Cols, true, nil
}

func (s *Store) GetBytes(key string) ([]byte, bool, error) {
	rec, err := s.get(key)
	if err != nil || rec == nil {
		return nil, false, err
	}
	if rec.Type != TypeBytes {
		return nil, false, verrors.New(verrors.KindCorruption, "kv.GetBytes", verrors.ErrTypeMismatch)
	}
	return rec.Bytes, true, nil
}

// Remove tombstones key: get(key) returns absent after this even though
// earlier segments still physically contain it.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("kv.Remove"); err != nil {
		return err
	}
	if err := s.index.Remove(key); err != nil {
		return fmt.Errorf("kv: remove: %w", err)
	}
	return s.commit()
}

// ReadRecordAt decodes the data-log record at a raw offset previously
// observed via OffsetStream, without going through the hash index again.
func (s *Store) ReadRecordAt(offset int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("kv.ReadRecordAt"); err != nil {
		return nil, err
	}
	return s.dataLog.Read(offset)
}

// OffsetStream iterates every committed, non-tombstoned (key, dataOffset)
// pair in the store. Used by the inverted index to enumerate terms and by
// the document persister to enumerate internal ids.
func (s *Store) OffsetStream(yield func(key string, dataOffset int64) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("kv.OffsetStream"); err != nil {
		return err
	}
	return s.index.Keys(yield)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	if err := s.dataLog.Sync(); err != nil {
		firstErr = err
	}
	if err := s.index.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.commit(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.dataLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.metadata.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.log.Infow("kv store closed")
	return firstErr
}
