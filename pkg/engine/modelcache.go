package engine

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clinalytics/chf-pipeline/pkg/ml/forest"
)

func init() {
	// concrete model type behind the Classifier interface
	gob.Register(&forest.Classifier{})
}

// ModelCache persists a fitted engine as an opaque blob at a fixed path.
// There is no input hashing or versioning; invalidation is an explicit
// delete.
type ModelCache struct {
	path string
}

func NewModelCache(path string) *ModelCache {
	return &ModelCache{path: path}
}

func (c *ModelCache) Save(e *DecisionEngine) error {
	if !e.Fitted {
		return ErrNotTrained
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	file, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	defer file.Close()
	if err := gob.NewEncoder(file).Encode(e); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	return nil
}

// Load restores a previously saved engine. ok is false when no model has
// been cached yet.
func (c *ModelCache) Load() (*DecisionEngine, bool, error) {
	file, err := os.Open(c.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open model file: %w", err)
	}
	defer file.Close()
	var e DecisionEngine
	if err := gob.NewDecoder(file).Decode(&e); err != nil {
		return nil, false, fmt.Errorf("decode model: %w", err)
	}
	return &e, true, nil
}

// Invalidate deletes the cached model. Deleting a missing model is not an
// error.
func (c *ModelCache) Invalidate() error {
	err := os.Remove(c.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove model file: %w", err)
	}
	return nil
}
