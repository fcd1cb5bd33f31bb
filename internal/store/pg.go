package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time checks.
var (
	_ PreferenceStore = (*PgPreferenceStore)(nil)
	_ ProjectStore    = (*PgProjectStore)(nil)
)

// PgPreferenceStore reads user generation preferences from PostgreSQL.
type PgPreferenceStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgPreferenceStore(pool *pgxpool.Pool, logger *zap.Logger) *PgPreferenceStore {
	return &PgPreferenceStore{
		pool:   pool,
		logger: logger.Named("PgPreferenceStore"),
	}
}

func (s *PgPreferenceStore) Find(ctx context.Context, userID string) (*Preference, error) {
	query := `SELECT preferred_model, default_temperature, default_system_prompt
	          FROM user_preferences WHERE user_id = $1`

	var (
		pref         Preference
		model        *string
		systemPrompt *string
	)
	err := s.pool.QueryRow(ctx, query, userID).Scan(&model, &pref.DefaultTemperature, &systemPrompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to load preference", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("load preference for %s: %w", userID, err)
	}

	if model != nil {
		pref.PreferredModel = *model
	}
	if systemPrompt != nil {
		pref.DefaultSystemPrompt = *systemPrompt
	}
	return &pref, nil
}

// PgProjectStore persists generated projects in PostgreSQL.
type PgProjectStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgProjectStore(pool *pgxpool.Pool, logger *zap.Logger) *PgProjectStore {
	return &PgProjectStore{
		pool:   pool,
		logger: logger.Named("PgProjectStore"),
	}
}

func (s *PgProjectStore) Save(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}

	metadata, err := json.Marshal(project.Metadata)
	if err != nil {
		return fmt.Errorf("marshal project metadata: %w", err)
	}

	query := `INSERT INTO projects (id, user_id, title, content, prompt, model, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.pool.Exec(ctx, query,
		project.ID, project.UserID, project.Title, project.Content,
		project.Prompt, project.Model, metadata,
	); err != nil {
		s.logger.Error("failed to save project",
			zap.String("project_id", project.ID),
			zap.String("user_id", project.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("save project %s: %w", project.ID, err)
	}

	s.logger.Info("project saved",
		zap.String("project_id", project.ID),
		zap.String("user_id", project.UserID),
		zap.String("model", project.Model),
	)
	return nil
}
