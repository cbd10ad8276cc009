// Package inverted implements the persistent inverted string index built
// on the kv.Store: term → posting list, with equals, startsWith,
// endsWith and contains operators.
package inverted

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vulcanodb/vulcanodb/internal/bitmap"
	"github.com/vulcanodb/vulcanodb/internal/kv"
)

const termKeyPrefix = "term:"

// Index is a term → posting-list index over a dedicated kv.Store.
type Index struct {
	store *kv.Store
	log   *zap.SugaredLogger
}

// Open opens or creates the inverted index store rooted at dir.
func Open(dir string, cfg kv.Config, log *zap.SugaredLogger) (*Index, error) {
	store, err := kv.Open(dir, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("inverted: open: %w", err)
	}
	return &Index{store: store, log: log}, nil
}

// Add appends internalID to term's posting list. No de-duplication is
// attempted; readers tolerate duplicate ids in a posting list.
func (idx *Index) Add(term string, internalID int64) error {
	key := termKeyPrefix + term
	existing, ok, err := idx.store.GetString(key)
	if err != nil {
		return fmt.Errorf("inverted: add: %w", err)
	}
	var sb strings.Builder
	if ok && existing != "" {
		sb.WriteString(existing)
		sb.WriteByte(',')
	}
	sb.WriteString(strconv.FormatInt(internalID, 10))
	return idx.store.PutString(key, sb.String())
}

func parsePostingList(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Equals returns the DocIdSet for term's exact posting list.
func (idx *Index) Equals(term string) (*bitmap.DocIdSet, error) {
	s, ok, err := idx.store.GetString(termKeyPrefix + term)
	if err != nil {
		return nil, fmt.Errorf("inverted: equals: %w", err)
	}
	if !ok {
		return bitmap.New(), nil
	}
	return bitmap.FromSlice(parsePostingList(s)), nil
}

type matchFunc func(term, needle string) bool

func matchStartsWith(term, needle string) bool { return strings.HasPrefix(term, needle) }
func matchEndsWith(term, needle string) bool   { return strings.HasSuffix(term, needle) }
func matchContains(term, needle string) bool   { return strings.Contains(term, needle) }

// scan enumerates every stored term via the kv store's offset stream,
// unioning posting lists for terms matching the given predicate.
func (idx *Index) scan(needle string, match matchFunc) (*bitmap.DocIdSet, error) {
	result := bitmap.New()
	var scanErr error
	err := idx.store.OffsetStream(func(key string, offset int64) bool {
		if !strings.HasPrefix(key, termKeyPrefix) {
			return true
		}
		term := key[len(termKeyPrefix):]
		if !match(term, needle) {
			return true
		}
		rec, err := idx.store.ReadRecordAt(offset)
		if err != nil {
			scanErr = fmt.Errorf("inverted: scan read: %w", err)
			return false
		}
		if rec.Type != kv.TypeString {
			return true
		}
		for _, id := range parsePostingList(rec.Str) {
			result.Add(id)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("inverted: scan: %w", err)
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return result, nil
}

func (idx *Index) StartsWith(prefix string) (*bitmap.DocIdSet, error) {
	return idx.scan(prefix, matchStartsWith)
}

func (idx *Index) EndsWith(suffix string) (*bitmap.DocIdSet, error) {
	return idx.scan(suffix, matchEndsWith)
}

func (idx *Index) Contains(substr string) (*bitmap.DocIdSet, error) {
	return idx.scan(substr, matchContains)
}

func (idx *Index) Close() error { return idx.store.Close() }
