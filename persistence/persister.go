// Package persistence provides the durability and introspection
// integrations the teacher keeps under internal/production: saving and
// restoring session.Snapshot to disk, publishing processed events for an
// external subscriber, and exporting a chart.Provider's structure for
// visualization. None of this is reachable from the core macrostep loop —
// it is opt-in tooling an embedder wires in the same way the teacher's
// production package is opt-in over internal/core.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/comalice/scxmlrt/session"
)

// Persister saves and loads session.Snapshot by session id, the interface
// runtime.Runtime's own Save/Restore helpers (if an embedder wants them)
// would be built against. Grounded on the teacher's
// internal/core.Persister interface and its two internal/production
// implementations.
type Persister interface {
	Save(ctx context.Context, snap session.Snapshot) error
	Load(ctx context.Context, sessionID string) (session.Snapshot, error)
}

// JSONPersister is a file-based Persister using JSON, one file per
// session under dir. Directly adapted from
// internal/production.JSONPersister, retargeted from core.MachineSnapshot
// to session.Snapshot.
type JSONPersister struct {
	dir string
}

// NewJSONPersister creates a JSONPersister, ensuring dir exists.
func NewJSONPersister(dir string) (*JSONPersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: mkdir %s: %w", dir, err)
	}
	return &JSONPersister{dir: dir}, nil
}

func (p *JSONPersister) Save(ctx context.Context, snap session.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: json marshal: %w", err)
	}
	fn := filepath.Join(p.dir, snap.ID+".json")
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", fn, err)
	}
	return nil
}

func (p *JSONPersister) Load(ctx context.Context, sessionID string) (session.Snapshot, error) {
	fn := filepath.Join(p.dir, sessionID+".json")
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return session.Snapshot{}, fmt.Errorf("persistence: session %q: %w", sessionID, os.ErrNotExist)
		}
		return session.Snapshot{}, fmt.Errorf("persistence: read %s: %w", fn, err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("persistence: json unmarshal: %w", err)
	}
	snap.ID = sessionID
	return snap, nil
}

// YAMLPersister is JSONPersister's YAML-serialized counterpart, adapted
// from internal/production.YAMLPersister and using the same
// gopkg.in/yaml.v3 dependency.
type YAMLPersister struct {
	dir string
}

// NewYAMLPersister creates a YAMLPersister, ensuring dir exists.
func NewYAMLPersister(dir string) (*YAMLPersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: mkdir %s: %w", dir, err)
	}
	return &YAMLPersister{dir: dir}, nil
}

func (p *YAMLPersister) Save(ctx context.Context, snap session.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persistence: yaml marshal: %w", err)
	}
	fn := filepath.Join(p.dir, snap.ID+".yaml")
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", fn, err)
	}
	return nil
}

func (p *YAMLPersister) Load(ctx context.Context, sessionID string) (session.Snapshot, error) {
	fn := filepath.Join(p.dir, sessionID+".yaml")
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return session.Snapshot{}, fmt.Errorf("persistence: session %q: %w", sessionID, os.ErrNotExist)
		}
		return session.Snapshot{}, fmt.Errorf("persistence: read %s: %w", fn, err)
	}
	var snap session.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("persistence: yaml unmarshal: %w", err)
	}
	snap.ID = sessionID
	return snap, nil
}
