package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("engine run not found")

// RunModel records one fit of the decision engine, with the hold-out
// diagnostics of both classifiers kept as a JSON blob.
type RunModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Records      int               `gorm:"column:records"`
	Treatments   int               `gorm:"column:treatments"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ModelPath    string            `gorm:"column:model_path"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
}

func (RunModel) TableName() string {
	return "decision_engine_runs"
}

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{})
}

func (r *RunRepository) Create(ctx context.Context, run *RunModel) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *RunRepository) Get(ctx context.Context, runID uuid.UUID) (*RunModel, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []RunModel
	result := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&runs)
	return runs, result.Error
}

// RunMetrics flattens the last-fit diagnostics into a JSON map for storage.
func RunMetrics(e *DecisionEngine) datatypes.JSONMap {
	metrics := make(datatypes.JSONMap, len(e.LastFit))
	for name, d := range e.LastFit {
		metrics[name] = map[string]interface{}{
			"train_accuracy": d.TrainAccuracy,
			"test_accuracy":  d.TestAccuracy,
			"train_samples":  d.TrainSamples,
			"test_samples":   d.TestSamples,
		}
	}
	return metrics
}
