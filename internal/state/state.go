// Package state persists small bits of executor state across runs —
// currently just the monotonically increasing pipeline IID — under
// .gitlab-ci-local/state.json, using a write-temp-then-rename publish
// so a crash mid-write never leaves a half-written file in place.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Document is the on-disk shape of state.json.
type Document struct {
	PipelineIID int `json:"pipelineIid"`
}

// Store reads and writes Document to a fixed path under root.
type Store struct {
	path string
}

// NewStore returns a Store rooted at root/.gitlab-ci-local/state.json.
func NewStore(root string) *Store {
	return &Store{path: filepath.Join(root, ".gitlab-ci-local", "state.json")}
}

// Load reads the current document, returning a zero-value Document (IID
// 0) if the file does not yet exist.
func (s *Store) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("state: reading %s: %w", s.path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("state: parsing %s: %w", s.path, err)
	}
	return doc, nil
}

// NextPipelineIID loads the current IID, increments it, persists the
// new value, and returns it. Every invocation of the executor gets a
// fresh, unique IID within this project directory.
func (s *Store) NextPipelineIID() (int, error) {
	doc, err := s.Load()
	if err != nil {
		return 0, err
	}
	doc.PipelineIID++
	if err := s.save(doc); err != nil {
		return 0, err
	}
	return doc.PipelineIID, nil
}

func (s *Store) save(doc Document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encoding: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: writing temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: publishing state file: %w", err)
	}
	return nil
}
