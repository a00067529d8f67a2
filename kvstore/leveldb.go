package kvstore

import (
	"bytes"
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is the log-structured persistent backend. Every table gets
// its own key namespace: on-disk keys are
// len(table) (2 bytes BE) || table || 0x00 || user key, so tables never
// collide with each other and lexicographic iteration of the namespaced
// key equals lexicographic iteration of the user key within a table.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (creating if absent) a leveldb database at dir.
func OpenLevelStore(dir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func namespacedKey(table string, key []byte) []byte {
	buf := make([]byte, 0, 2+len(table)+1+len(key))
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(table)))
	buf = append(buf, l[:]...)
	buf = append(buf, table...)
	buf = append(buf, 0x00)
	buf = append(buf, key...)
	return buf
}

func tablePrefix(table string) []byte {
	return namespacedKey(table, nil)
}

func (s *LevelStore) Put(table string, key, value []byte, opts PutOptions) error {
	if err := validateTable(table); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	nk := namespacedKey(table, key)
	if opts.IfNotExists {
		exists, err := s.db.Has(nk, nil)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyExists
		}
	}
	return s.db.Put(nk, value, nil)
}

func (s *LevelStore) Get(table string, key []byte) ([]byte, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	v, err := s.db.Get(namespacedKey(table, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNoSuchKey
	}
	return v, err
}

func (s *LevelStore) Delete(table string, key []byte) ([]byte, bool, error) {
	if err := validateTable(table); err != nil {
		return nil, false, err
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	nk := namespacedKey(table, key)
	prev, err := s.db.Get(nk, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := s.db.Delete(nk, nil); err != nil {
		return nil, false, err
	}
	return prev, true, nil
}

func (s *LevelStore) Scan(table string, opts ScanOptions) (ScanResult, error) {
	if err := validateTable(table); err != nil {
		return ScanResult{}, err
	}
	prefix := tablePrefix(table)
	rng := util.BytesPrefix(prefix)
	if opts.Start != nil {
		rng.Start = namespacedKey(table, opts.Start)
	}
	if opts.End != nil {
		rng.Limit = namespacedKey(table, opts.End)
		if opts.EndInclusive {
			// Limit is exclusive; End||0x00 is the smallest key after End.
			rng.Limit = append(rng.Limit, 0x00)
		}
	}
	it := s.db.NewIterator(rng, nil)
	defer it.Release()

	var pairs []KV
	hasMore := false
	for it.Next() {
		key := it.Key()[len(prefix):]
		if opts.Start != nil && opts.StartExclusive && bytes.Equal(key, opts.Start) {
			continue
		}
		if opts.End != nil && !opts.EndInclusive && bytes.Equal(key, opts.End) {
			continue
		}
		if opts.MaxCount > 0 && len(pairs) >= opts.MaxCount {
			hasMore = true
			break
		}
		kc := append([]byte(nil), key...)
		vc := append([]byte(nil), it.Value()...)
		pairs = append(pairs, KV{Key: kc, Value: vc})
	}
	if err := it.Error(); err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Pairs: pairs, HasMore: hasMore}, nil
}

func (s *LevelStore) MultiPut(entries []PutEntry) ([]EntryResult, error) {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		if err := validateTable(e.Table); err != nil {
			return nil, err
		}
		if err := validateKey(e.Key); err != nil {
			return nil, err
		}
		if err := validateValue(e.Value); err != nil {
			return nil, err
		}
		if e.Opts.IfNotExists {
			exists, err := s.db.Has(namespacedKey(e.Table, e.Key), nil)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, ErrAlreadyExists
			}
		}
		batch.Put(namespacedKey(e.Table, e.Key), e.Value)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return nil, err
	}
	results := make([]EntryResult, len(entries))
	for i := range results {
		results[i] = EntryResult{Found: true}
	}
	return results, nil
}

func (s *LevelStore) MultiGet(entries []GetEntry) ([]EntryResult, error) {
	results := make([]EntryResult, len(entries))
	for i, e := range entries {
		if err := validateTable(e.Table); err != nil {
			results[i] = EntryResult{Err: err}
			continue
		}
		v, err := s.db.Get(namespacedKey(e.Table, e.Key), nil)
		if err == leveldb.ErrNotFound {
			results[i] = EntryResult{Err: ErrNoSuchKey}
			continue
		}
		if err != nil {
			results[i] = EntryResult{Err: err}
			continue
		}
		results[i] = EntryResult{Value: v, Found: true}
	}
	return results, nil
}

func (s *LevelStore) MultiDelete(entries []DeleteEntry) ([]EntryResult, error) {
	batch := new(leveldb.Batch)
	results := make([]EntryResult, len(entries))
	for i, e := range entries {
		nk := namespacedKey(e.Table, e.Key)
		prev, err := s.db.Get(nk, nil)
		if err == leveldb.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		batch.Delete(nk)
		results[i] = EntryResult{Value: prev, Found: true}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
