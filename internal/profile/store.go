package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HerbHall/counsellor/internal/details"
	"github.com/HerbHall/counsellor/internal/store"
	"go.uber.org/zap"
)

// ProfileStore persists profiles as JSON text columns.
type ProfileStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProfileStore creates a ProfileStore and runs profile migrations.
func NewProfileStore(ctx context.Context, db *store.SQLiteStore, logger *zap.Logger) (*ProfileStore, error) {
	if err := db.Migrate(ctx, "profile", migrations); err != nil {
		return nil, fmt.Errorf("profile migrations: %w", err)
	}
	return &ProfileStore{db: db.DB(), logger: logger}, nil
}

const profileColumns = `name, demographics, spirituality, therapy_goals, preferences,
	health, mental_health_screening, sensitive_topics, personal_details,
	intake_completed, created_at, updated_at`

// Get returns the stored profile or sql.ErrNoRows.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	raw := make([]sql.NullString, 8)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.Name, &raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5], &raw[6], &raw[7],
		&p.IntakeCompleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	names := []string{"demographics", "spirituality", "therapy_goals", "preferences",
		"health", "mental_health_screening", "sensitive_topics"}
	for i, sec := range p.sections() {
		*sec = s.safeParseSection(userID, names[i], raw[i].String)
	}
	p.PersonalDetails = s.safeParseDetails(userID, raw[7].String)
	return &p, nil
}

// Save inserts or replaces the whole profile row.
func (s *ProfileStore) Save(ctx context.Context, userID string, p *Profile) error {
	p.normalize()
	cols := make([]any, 0, 8)
	for _, sec := range p.sections() {
		b, err := json.Marshal(*sec)
		if err != nil {
			return fmt.Errorf("encode profile section: %w", err)
		}
		cols = append(cols, string(b))
	}
	pd, err := json.Marshal(p.PersonalDetails)
	if err != nil {
		return fmt.Errorf("encode personal details: %w", err)
	}
	cols = append(cols, string(pd))

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	args := []any{userID, p.Name}
	args = append(args, cols...)
	args = append(args, p.IntakeCompleted, p.CreatedAt, p.UpdatedAt)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, `+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			demographics = excluded.demographics,
			spirituality = excluded.spirituality,
			therapy_goals = excluded.therapy_goals,
			preferences = excluded.preferences,
			health = excluded.health,
			mental_health_screening = excluded.mental_health_screening,
			sensitive_topics = excluded.sensitive_topics,
			personal_details = excluded.personal_details,
			intake_completed = excluded.intake_completed,
			updated_at = excluded.updated_at`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Delete removes the profile. A missing profile is not an error.
func (s *ProfileStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// safeParseSection decodes a JSON object column. Malformed text is logged
// and read as empty so one bad column never hides the rest of the profile.
func (s *ProfileStore) safeParseSection(userID, column, text string) Section {
	out := Section{}
	if text == "" {
		return out
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil || out == nil {
		s.logger.Error("malformed profile column",
			zap.String("user_id", userID), zap.String("column", column), zap.Error(err))
		return Section{}
	}
	return out
}

func (s *ProfileStore) safeParseDetails(userID, text string) details.Details {
	d, err := details.Parse([]byte(text))
	if err != nil {
		s.logger.Error("malformed personal details",
			zap.String("user_id", userID), zap.Error(err))
		return details.Details{}
	}
	if d == nil {
		return details.Details{}
	}
	return d
}


var migrations = []store.Migration{
	{
		Version:     1,
		Description: "create profiles table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE profiles (
					user_id                 TEXT PRIMARY KEY,
					name                    TEXT NOT NULL DEFAULT '',
					demographics            TEXT,
					spirituality            TEXT,
					therapy_goals           TEXT,
					preferences             TEXT,
					health                  TEXT,
					mental_health_screening TEXT,
					sensitive_topics        TEXT,
					personal_details        TEXT,
					intake_completed        INTEGER NOT NULL DEFAULT 0,
					created_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`)
			return err
		},
	},
}
