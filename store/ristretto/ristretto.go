package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"
	"github.com/vmihailenco/msgpack/v5"
)

// Store keeps field maps in-process on top of Ristretto with native per-entry
// TTL. Each key holds one msgpack-encoded record.
//
// Ristretto applies writes asynchronously; save calls Wait so the store keeps
// read-after-write semantics, which the cache layer relies on.
type Store struct {
	c *rc.Cache
}

type record struct {
	Scalar string            `msgpack:"s,omitempty"`
	Fields map[string]string `msgpack:"f,omitempty"`
}

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto store: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) load(key string) (record, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return record{}, false
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return record{}, false
	}
	var r record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		s.c.Del(key)
		return record{}, false
	}
	return r, true
}

func (s *Store) save(key string, r record, ttl time.Duration) error {
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return err
	}
	s.c.SetWithTTL(key, b, int64(len(b)), ttl)
	s.c.Wait()
	return nil
}

// remainingTTL preserves a key's deadline across read-modify-write updates.
// 0 means no expiry.
func (s *Store) remainingTTL(key string) time.Duration {
	ttl, ok := s.c.GetTTL(key)
	if !ok {
		return 0
	}
	return ttl
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	r, ok := s.load(key)
	if !ok {
		return "", false, nil
	}
	return r.Scalar, true, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	return s.save(key, record{Scalar: value}, 0)
}

func (s *Store) GetAllFields(_ context.Context, key string) (map[string]string, error) {
	r, ok := s.load(key)
	if !ok {
		return map[string]string{}, nil
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
	r, ok := s.load(key)
	if !ok {
		return "", false, nil
	}
	v, ok := r.Fields[field]
	return v, ok, nil
}

func (s *Store) SetField(_ context.Context, key, field, value string) error {
	ttl := s.remainingTTL(key)
	r, _ := s.load(key)
	if r.Fields == nil {
		r.Fields = make(map[string]string, 1)
	}
	r.Fields[field] = value
	return s.save(key, r, ttl)
}

func (s *Store) SetFields(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if ttl < 0 {
		s.c.Del(key)
		return nil
	}
	return s.save(key, record{Fields: fields}, ttl)
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.c.Del(k)
	}
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes Ristretto metrics to the application (not part of the
// store contract).
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
