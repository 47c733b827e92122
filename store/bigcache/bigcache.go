package bigcache

import (
	"context"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/vmihailenco/msgpack/v5"
)

// Store keeps field maps in-process on top of BigCache. Each key holds one
// msgpack-encoded record. BigCache only supports a global LifeWindow, so the
// per-key deadline is carried inside the record and enforced on read.
//
// Field updates are read-modify-write and therefore not atomic under
// concurrent writers to the same key; acceptable for a single process, which
// is the only place an in-process store makes sense.
type Store struct {
	c *bc.BigCache
}

type record struct {
	Scalar   string            `msgpack:"s,omitempty"`
	Fields   map[string]string `msgpack:"f,omitempty"`
	Deadline int64             `msgpack:"d,omitempty"` // unix nanos; 0 = none
}

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Store, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) load(key string) (record, bool, error) {
	b, err := s.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	var r record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		_ = s.c.Delete(key) // self-heal corrupt
		return record{}, false, nil
	}
	if r.Deadline != 0 && time.Now().UnixNano() > r.Deadline {
		_ = s.c.Delete(key)
		return record{}, false, nil
	}
	return r, true, nil
}

func (s *Store) save(key string, r record) error {
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return err
	}
	return s.c.Set(key, b)
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	r, ok, err := s.load(key)
	if err != nil || !ok {
		return "", false, err
	}
	return r.Scalar, true, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	return s.save(key, record{Scalar: value})
}

func (s *Store) GetAllFields(_ context.Context, key string) (map[string]string, error) {
	r, ok, err := s.load(key)
	if err != nil || !ok {
		return map[string]string{}, err
	}
	return r.Fields, nil
}

func (s *Store) GetAllFieldsMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		m, err := s.GetAllFields(ctx, k)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func (s *Store) GetField(_ context.Context, key, field string) (string, bool, error) {
	r, ok, err := s.load(key)
	if err != nil || !ok {
		return "", false, err
	}
	v, ok := r.Fields[field]
	return v, ok, nil
}

func (s *Store) SetField(_ context.Context, key, field, value string) error {
	r, _, err := s.load(key)
	if err != nil {
		return err
	}
	if r.Fields == nil {
		r.Fields = make(map[string]string, 1)
	}
	r.Fields[field] = value
	return s.save(key, r)
}

func (s *Store) SetFields(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if ttl < 0 {
		if err := s.c.Delete(key); err != nil && err != bc.ErrEntryNotFound {
			return err
		}
		return nil
	}
	r := record{Fields: fields}
	if ttl > 0 {
		r.Deadline = time.Now().Add(ttl).UnixNano()
	}
	return s.save(key, r)
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.c.Delete(k); err != nil && err != bc.ErrEntryNotFound {
			return err
		}
	}
	return nil
}

func (s *Store) Close(_ context.Context) error {
	return s.c.Close()
}
