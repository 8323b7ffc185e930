// Package local keeps subscribers in a single JSON document on disk. It is
// the secondary store: no live updates, and a hard byte quota on the document.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/oops"
	"shadowrealms_backend/pkg/storage"
)

const DefaultQuota int64 = 5 * 1024 * 1024

const documentVersion = 1

type document struct {
	Version     int                `json:"version"`
	Subscribers []model.Subscriber `json:"subscribers"`
}

type Store struct {
	path  string
	quota int64

	mu sync.Mutex
}

// New returns a store backed by the file at path. The file and its directory
// are created on the first write. quota <= 0 means DefaultQuota.
func New(path string, quota int64) *Store {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Store{path: path, quota: quota}
}

func (s *Store) Name() string {
	return "local"
}

func (s *Store) Add(ctx context.Context, sub *model.Subscriber) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if storage.ContainsActive(doc.Subscribers, sub.Email) {
		return storage.ErrDuplicate
	}

	rec := *sub
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubscribedAt.IsZero() {
		rec.SubscribedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	doc.Subscribers = append(doc.Subscribers, rec)
	if err := s.write(doc); err != nil {
		return err
	}

	sub.ID = rec.ID
	sub.SubscribedAt = rec.SubscribedAt
	sub.Status = rec.Status
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]model.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Subscribers, nil
}

func (s *Store) RemoveAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.New(err, "failed to remove %s", s.path)
	}
	return nil
}

func (s *Store) Unsubscribe(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	found := false
	for i := range doc.Subscribers {
		if doc.Subscribers[i].Email == email && doc.Subscribers[i].IsActive() {
			doc.Subscribers[i].Status = model.StatusUnsubscribed
			found = true
		}
	}
	if !found {
		return storage.ErrNotFound
	}
	return s.write(doc)
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	before := len(doc.Subscribers)
	doc.Subscribers = slices.DeleteFunc(doc.Subscribers, func(sub model.Subscriber) bool {
		return slices.Contains(ids, sub.ID)
	})
	if len(doc.Subscribers) == before {
		return nil
	}
	if len(doc.Subscribers) == 0 {
		err := os.Remove(s.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return oops.New(err, "failed to remove %s", s.path)
		}
		return nil
	}
	return s.write(doc)
}

// Size returns the current document size in bytes.
func (s *Store) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.New(err, "failed to stat %s", s.path)
	}
	return info.Size(), nil
}

func (s *Store) read() (document, error) {
	doc := document{Version: documentVersion}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, oops.New(err, "failed to read %s", s.path)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, oops.New(err, "corrupt subscriber file %s", s.path)
	}
	return doc, nil
}

// write replaces the file through a rename so a crash never leaves half a document.
func (s *Store) write(doc document) error {
	doc.Version = documentVersion
	data, err := json.Marshal(doc)
	if err != nil {
		return oops.New(err, "failed to encode subscribers")
	}
	if int64(len(data)) > s.quota {
		return fmt.Errorf("%w: %d bytes over a %d byte quota", storage.ErrQuotaExceeded, len(data), s.quota)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return oops.New(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return oops.New(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return oops.New(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return oops.New(err, "failed to close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return oops.New(err, "failed to replace %s", s.path)
	}
	return nil
}

var (
	_ storage.Backend      = (*Store)(nil)
	_ storage.Unsubscriber = (*Store)(nil)
	_ storage.Deleter      = (*Store)(nil)
)
