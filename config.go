package vulcanodb

import (
	"fmt"
	"os"

	goccyjson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/hnsw"
	"github.com/vulcanodb/vulcanodb/internal/kv"
	"github.com/vulcanodb/vulcanodb/internal/telemetry"
	"github.com/vulcanodb/vulcanodb/internal/vector"
)

// VectorFieldConfig sizes one named vector field's HNSW index.
type VectorFieldConfig struct {
	Dimensions     int     `json:"dimensions"`
	M              int     `json:"m"`
	MMax           int     `json:"mMax"`
	MMax0          int     `json:"mMax0"`
	EfConstruction int     `json:"efConstruction"`
	EfSearch       int     `json:"efSearch"`
	BlockSizeBytes int64   `json:"blockSize"`
	ML             float64 `json:"ml"`
}

// IngestConfig sizes the ingestion scheduler.
type IngestConfig struct {
	QueueCapacity int `json:"capacity"`
	Workers       int `json:"workers"`
}

// Config is the engine's full open-time configuration.
type Config struct {
	DataFolder string `json:"dataFolder"`

	KVSegmentDataBytes  int64 `json:"-"`
	KVSegmentIndexBytes int64 `json:"-"`
	KVIndexBuckets      int   `json:"-"`

	// StringFields lists every field that should maintain a persistent
	// inverted index (equals/startsWith/endsWith/contains).
	StringFields []string `json:"stringFields"`
	// VectorFields lists every field that should maintain an HNSW index,
	// keyed by field name.
	VectorFields map[string]VectorFieldConfig `json:"vectorFields"`

	Ingest IngestConfig `json:"ingest"`

	Hooks telemetry.Hooks    `json:"-"`
	Log   *zap.SugaredLogger `json:"-"`
}

// configFile mirrors the on-disk JSON shape of the dotted configuration
// keys, nested instead of dotted since JSON has no native dotted-key
// convention.
type configFile struct {
	DataFolder string `json:"dataFolder"`
	KV         struct {
		Segment struct {
			Data struct {
				Bytes int64 `json:"bytes"`
			} `json:"data"`
			Index struct {
				Bytes int64 `json:"bytes"`
			} `json:"index"`
		} `json:"segment"`
		Index struct {
			Buckets int `json:"buckets"`
		} `json:"index"`
	} `json:"kv"`
	StringFields []string                     `json:"stringFields"`
	HNSW         map[string]VectorFieldConfig `json:"hnsw"`
	Ingest       struct {
		Queue struct {
			Capacity int `json:"capacity"`
		} `json:"queue"`
		Workers int `json:"workers"`
	} `json:"ingest"`
	Telemetry struct {
		Level    string `json:"level"`
		Sampling string `json:"sampling"`
	} `json:"telemetry"`
}

// LoadConfig reads a JSON configuration file shaped per the recognized
// engine keys.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("vulcanodb: read config: %w", err)
	}
	var cf configFile
	if err := goccyjson.Unmarshal(raw, &cf); err != nil {
		return Config{}, fmt.Errorf("vulcanodb: parse config: %w", err)
	}
	cfg := Config{
		DataFolder:          cf.DataFolder,
		KVSegmentDataBytes:  cf.KV.Segment.Data.Bytes,
		KVSegmentIndexBytes: cf.KV.Segment.Index.Bytes,
		KVIndexBuckets:      cf.KV.Index.Buckets,
		StringFields:        cf.StringFields,
		VectorFields:        cf.HNSW,
		Ingest: IngestConfig{
			QueueCapacity: cf.Ingest.Queue.Capacity,
			Workers:       cf.Ingest.Workers,
		},
	}
	return cfg, nil
}

func (c Config) kvConfig() kv.Config {
	return kv.Config{
		DataSegmentBytes:  c.KVSegmentDataBytes,
		IndexSegmentBytes: c.KVSegmentIndexBytes,
		Buckets:           c.KVIndexBuckets,
	}
}

func (c VectorFieldConfig) hnswConfig(hooks telemetry.Hooks) hnsw.Config {
	return hnsw.Config{
		Dimensions:     c.Dimensions,
		M:              c.M,
		MMax:           c.MMax,
		MMax0:          c.MMax0,
		EfConstruction: c.EfConstruction,
		EfSearch:       c.EfSearch,
		BlockSize:      c.BlockSizeBytes,
		ML:             c.ML,
		Similarity:     vector.Cosine,
		Hooks:          hooks,
	}
}
