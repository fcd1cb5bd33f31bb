package store

import (
	"context"
)

// Preference holds a user's stored generation defaults. Nil pointer fields
// mean the user never set that preference.
type Preference struct {
	PreferredModel      string
	DefaultTemperature  *float64
	DefaultSystemPrompt string
}

// PreferenceStore is read-only from the gateway's perspective. Find returns
// (nil, nil) when the user has no stored preference.
type PreferenceStore interface {
	Find(ctx context.Context, userID string) (*Preference, error)
}

// Project is a persisted generation result a caller opted to keep.
type Project struct {
	ID       string
	UserID   string
	Title    string
	Content  string
	Prompt   string
	Model    string
	Metadata map[string]string
}

// ProjectStore receives fire-and-forget writes; the gateway never reads
// projects back.
type ProjectStore interface {
	Save(ctx context.Context, project *Project) error
}

// NopPreferenceStore is used when no database is configured: every lookup
// is a clean "no preference".
type NopPreferenceStore struct{}

func (NopPreferenceStore) Find(context.Context, string) (*Preference, error) {
	return nil, nil
}

// NopProjectStore discards writes when no database is configured.
type NopProjectStore struct{}

func (NopProjectStore) Save(context.Context, *Project) error {
	return nil
}
