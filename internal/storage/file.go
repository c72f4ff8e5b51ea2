package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"listwatch/pkg/logx"
)

// fileStore keeps one JSON document per source: an ordered array of
// single-key objects {"<item>": <first-seen epoch ms>}, pretty-printed so the
// file stays hand-inspectable.
//
// Writes always go whole-file to a temp path followed by a rename, so a crash
// mid-write never leaves a partially written store behind. Read-modify-write
// is safe because one worker owns one store.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

// record is one persisted entry. Exactly one key: the item id.
type record map[string]int64

func openFile(cfg Config, source string, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("storage.dir is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:  log,
		path: filepath.Join(dir, source+".json"),
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Exists(ctx context.Context) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *fileStore) Bootstrap(ctx context.Context, items []string, at int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("%s: %w", s.path, ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return err
	}

	records := make([]record, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		records = append(records, record{it: at})
	}
	return s.writeLocked(records)
}

func (s *fileStore) Load(ctx context.Context) (map[string]struct{}, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(records))
	for _, r := range records {
		for item := range r {
			out[item] = struct{}{}
		}
	}
	return out, nil
}

func (s *fileStore) Append(ctx context.Context, items []string, at int64) error {
	_ = ctx
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return err
	}
	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		for item := range r {
			present[item] = struct{}{}
		}
	}
	appended := 0
	for _, it := range items {
		if _, ok := present[it]; ok {
			continue
		}
		present[it] = struct{}{}
		records = append(records, record{it: at})
		appended++
	}
	if appended == 0 {
		return nil
	}
	return s.writeLocked(records)
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *fileStore) readLocked() ([]record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("corrupt store %s: %w", s.path, err)
	}
	return records, nil
}

// writeLocked replaces the store atomically: whole document to a temp file,
// then rename over the live path.
func (s *fileStore) writeLocked(records []record) error {
	if records == nil {
		records = []record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
