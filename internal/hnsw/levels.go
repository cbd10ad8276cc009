package hnsw

import (
	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/pagestore"
)

// levelStore persists each node's drawn HNSW layer as a single byte at
// byte-offset id, since an id never straddles a segment at that width.
type levelStore struct {
	region *pagestore.Region
}

func openLevelStore(dir string, blockSize int64, log *zap.SugaredLogger) (*levelStore, error) {
	r, err := pagestore.Open(dir, "level", blockSize, log)
	if err != nil {
		return nil, err
	}
	return &levelStore{region: r}, nil
}

func (l *levelStore) Set(id int64, level int) error {
	return l.region.WriteAt([]byte{byte(level)}, id)
}

func (l *levelStore) Get(id int64) (int, error) {
	buf := make([]byte, 1)
	if err := l.region.ReadAt(buf, id); err != nil {
		return 0, err
	}
	return int(buf[0]), nil
}

func (l *levelStore) Close() error { return l.region.Close() }
