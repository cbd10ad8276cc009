// Metadata file: the last committed offsets of one KV store. Exactly 16
// bytes — two committed offsets — fsynced on every commit.
package kv

import (
	"fmt"
	"os"

	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

const MetadataSize = 16

// Metadata holds the last durably-committed data-log and hash-index
// offsets for one KV store.
type Metadata struct {
	path        string
	f           *os.File
	DataOffset  int64
	IndexOffset int64
}

// OpenMetadata opens (creating if needed) the metadata file at path.
func OpenMetadata(path string) (*Metadata, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, verrors.New(verrors.KindIO, "metadata.Open", err).WithDetail("path", path)
	}
	m := &Metadata{path: path, f: f}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, verrors.New(verrors.KindIO, "metadata.Open", err)
	}
	if info.Size() == 0 {
		if err := m.Commit(0, 0); err != nil {
			f.Close()
			return nil, err
		}
		return m, nil
	}

	buf := make([]byte, MetadataSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, verrors.New(verrors.KindCorruption, "metadata.Open", err)
	}
	m.DataOffset = getI64(buf[0:8])
	m.IndexOffset = getI64(buf[8:16])
	return m, nil
}

// Commit writes and fsyncs the pair (dataOffset, indexOffset). Store.Open
// does not read these offsets back: the data log and each hash-index
// bucket rebuild their cursors by scanning to the first zero entryLen, so
// entries published beyond the committed offsets are not discarded on
// reopen.
func (m *Metadata) Commit(dataOffset, indexOffset int64) error {
	buf := make([]byte, MetadataSize)
	putI64(buf[0:8], dataOffset)
	putI64(buf[8:16], indexOffset)

	if _, err := m.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("metadata: write: %w", err)
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("metadata: fsync: %w", err)
	}
	m.DataOffset = dataOffset
	m.IndexOffset = indexOffset
	return nil
}

func (m *Metadata) Close() error { return m.f.Close() }
