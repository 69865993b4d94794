// Package store persists model bindings in a SQL database so operators can add
// or retune providers without editing the config file. Stored bindings are
// merged over the file bindings when the registry is built.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/internal/database"
	"github.com/SkastVnT/AI-Assistant-sub002/llm"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no binding has the requested name.
var ErrNotFound = errors.New("model binding not found")

// txAttempts 写操作遇到死锁或锁超时时的尝试次数
const txAttempts = 3

// ModelBinding is the persisted form of llm.ModelConfig.
type ModelBinding struct {
	ID                uint    `gorm:"primaryKey" json:"id"`
	Name              string  `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Family            string  `gorm:"size:50;not null" json:"family"`
	APIKey            string  `gorm:"size:500" json:"-"` // 字面值或 ${ENV} 引用
	BaseURL           string  `gorm:"size:500" json:"base_url"`
	Model             string  `gorm:"size:200" json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	DeepMaxTokens     int     `json:"deep_max_tokens"`
	Temperature       float64 `json:"temperature"`
	DeepTemperature   float64 `json:"deep_temperature"`
	ContextLimit      int     `json:"context_limit"`
	TimeoutMS         int64   `json:"timeout_ms"`
	SupportsStreaming bool    `json:"supports_streaming"`
	Fallback          string  `gorm:"size:100" json:"fallback"`
	Enabled           bool    `gorm:"not null" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ModelBinding) TableName() string { return "model_bindings" }

// ToConfig converts the row into a binding, expanding ${ENV} credentials.
func (b ModelBinding) ToConfig() llm.ModelConfig {
	key := b.APIKey
	if strings.Contains(key, "$") {
		key = os.ExpandEnv(key)
	}
	return llm.ModelConfig{
		Name:              b.Name,
		Family:            b.Family,
		APIKey:            key,
		BaseURL:           b.BaseURL,
		Model:             b.Model,
		MaxTokens:         b.MaxTokens,
		DeepMaxTokens:     b.DeepMaxTokens,
		Temperature:       b.Temperature,
		DeepTemperature:   b.DeepTemperature,
		ContextLimit:      b.ContextLimit,
		Timeout:           time.Duration(b.TimeoutMS) * time.Millisecond,
		SupportsStreaming: b.SupportsStreaming,
		Fallback:          b.Fallback,
	}
}

// FromConfig builds an enabled row from a binding.
func FromConfig(cfg llm.ModelConfig) ModelBinding {
	return ModelBinding{
		Name:              cfg.Name,
		Family:            cfg.Family,
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		MaxTokens:         cfg.MaxTokens,
		DeepMaxTokens:     cfg.DeepMaxTokens,
		Temperature:       cfg.Temperature,
		DeepTemperature:   cfg.DeepTemperature,
		ContextLimit:      cfg.ContextLimit,
		TimeoutMS:         cfg.Timeout.Milliseconds(),
		SupportsStreaming: cfg.SupportsStreaming,
		Fallback:          cfg.Fallback,
		Enabled:           true,
	}
}

// Store reads and writes model bindings.
type Store struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// New creates a Store on top of an open pool.
func New(pool *database.PoolManager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger.With(zap.String("component", "model_store"))}
}

// AutoMigrate creates or updates the model_bindings table.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.pool.DB().WithContext(ctx).AutoMigrate(&ModelBinding{}); err != nil {
		return fmt.Errorf("failed to auto migrate model bindings: %w", err)
	}
	return nil
}

// List returns the enabled bindings ordered by name.
func (s *Store) List(ctx context.Context) ([]llm.ModelConfig, error) {
	var rows []ModelBinding
	err := s.pool.DB().WithContext(ctx).
		Where("enabled = ?", true).
		Order("name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list model bindings: %w", err)
	}
	out := make([]llm.ModelConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToConfig())
	}
	return out, nil
}

// Get returns one row by name, enabled or not.
func (s *Store) Get(ctx context.Context, name string) (*ModelBinding, error) {
	var row ModelBinding
	err := s.pool.DB().WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get model binding %s: %w", name, err)
	}
	return &row, nil
}

// Upsert inserts a binding or replaces the row with the same name.
func (s *Store) Upsert(ctx context.Context, cfg llm.ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	row := FromConfig(cfg)
	err := s.pool.WithTransactionRetry(ctx, txAttempts, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"family", "api_key", "base_url", "model",
				"max_tokens", "deep_max_tokens", "temperature", "deep_temperature",
				"context_limit", "timeout_ms", "supports_streaming", "fallback",
				"enabled", "updated_at",
			}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert model binding %s: %w", cfg.Name, err)
	}
	s.logger.Info("model binding saved", zap.String("model", cfg.Name), zap.String("family", cfg.Family))
	return nil
}

// SetEnabled toggles a binding without deleting it.
func (s *Store) SetEnabled(ctx context.Context, name string, enabled bool) error {
	var affected int64
	err := s.pool.WithTransactionRetry(ctx, txAttempts, func(tx *gorm.DB) error {
		res := tx.Model(&ModelBinding{}).Where("name = ?", name).Update("enabled", enabled)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("update model binding %s: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Delete removes a binding by name.
func (s *Store) Delete(ctx context.Context, name string) error {
	var affected int64
	err := s.pool.WithTransactionRetry(ctx, txAttempts, func(tx *gorm.DB) error {
		res := tx.Where("name = ?", name).Delete(&ModelBinding{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("delete model binding %s: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.logger.Info("model binding deleted", zap.String("model", name))
	return nil
}

// Merge overlays stored bindings on file bindings by name. File order is
// kept; stored bindings with new names are appended in their own order.
func Merge(file, stored []llm.ModelConfig) []llm.ModelConfig {
	byName := make(map[string]llm.ModelConfig, len(stored))
	for _, m := range stored {
		byName[m.Name] = m
	}
	out := make([]llm.ModelConfig, 0, len(file)+len(stored))
	seen := make(map[string]bool, len(file))
	for _, m := range file {
		if override, ok := byName[m.Name]; ok {
			m = override
		}
		out = append(out, m)
		seen[m.Name] = true
	}
	for _, m := range stored {
		if !seen[m.Name] {
			out = append(out, m)
		}
	}
	return out
}
