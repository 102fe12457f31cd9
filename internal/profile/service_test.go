package profile

import (
	"context"
	"testing"

	"github.com/HerbHall/counsellor/internal/details"
	"github.com/HerbHall/counsellor/internal/store"
	"github.com/HerbHall/counsellor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestService(t *testing.T, logger *zap.Logger) (*Service, *store.SQLiteStore) {
	t.Helper()
	db := testutil.NewStore(t)

	ps, err := NewProfileStore(context.Background(), db, logger)
	require.NoError(t, err)
	return NewService(ps, logger), db
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService(t, zap.NewNop())
	_, err := svc.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsert_RequiresName(t *testing.T) {
	svc, _ := newTestService(t, zap.NewNop())
	_, err := svc.Upsert(context.Background(), "u1", &Profile{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpsert_RoundTrip(t *testing.T) {
	svc, _ := newTestService(t, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "u1", &Profile{
		Name:         "River",
		Demographics: Section{"age": float64(34)},
		TherapyGoals: Section{"primary": "sleep better"},
	})
	require.NoError(t, err)

	p, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "River", p.Name)
	assert.Equal(t, float64(34), p.Demographics["age"])
	assert.Equal(t, "sleep better", p.TherapyGoals["primary"])
	assert.NotNil(t, p.Health)
	assert.NotNil(t, p.PersonalDetails)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestUpsert_PreservesLearnedDetails(t *testing.T) {
	svc, _ := newTestService(t, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "u1", &Profile{Name: "River"})
	require.NoError(t, err)
	_, err = svc.ApplyLearned(ctx, "u1", details.Details{
		details.WorkPurpose: {"job": details.String("nurse")},
	})
	require.NoError(t, err)
	require.NoError(t, svc.MarkIntakeCompleted(ctx, "u1"))

	incoming := &Profile{
		Name:            "River Stone",
		PersonalDetails: details.Details{details.WorkPurpose: {"job": details.String("pilot")}},
	}
	_, err = svc.Upsert(ctx, "u1", incoming)
	require.NoError(t, err)

	p, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "River Stone", p.Name)
	assert.True(t, p.IntakeCompleted)
	v, ok := p.PersonalDetails.Get(details.WorkPurpose, "job")
	require.True(t, ok)
	assert.Equal(t, "nurse", v.Str())
}

func TestApplyLearned_SanitizesAndMerges(t *testing.T) {
	svc, _ := newTestService(t, zap.NewNop())
	ctx := context.Background()

	changes, err := svc.ApplyLearned(ctx, "u1", details.Details{
		details.Relationships: {
			"partner":       details.String("Sam"),
			"bank_account":  details.String("12345678"),
			"close_friends": details.List("Ana"),
		},
	})
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	d, err := svc.GetDetails(ctx, "u1")
	require.NoError(t, err)
	_, ok := d.Get(details.Relationships, "bank_account")
	assert.False(t, ok, "sensitive field must not be stored")

	changes, err = svc.ApplyLearned(ctx, "u1", details.Details{
		details.Relationships: {"close_friends": details.List("Ana", "Lee")},
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)

	d, err = svc.GetDetails(ctx, "u1")
	require.NoError(t, err)
	v, _ := d.Get(details.Relationships, "close_friends")
	assert.Equal(t, []string{"Ana", "Lee"}, v.Items())
}

func TestApplyLearned_EmptyIsNoop(t *testing.T) {
	svc, _ := newTestService(t, zap.NewNop())
	changes, err := svc.ApplyLearned(context.Background(), "u1", details.Details{
		details.HealthWellbeing: {"ssn": details.String("x")},
	})
	require.NoError(t, err)
	assert.Empty(t, changes)

	_, err = svc.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetDetailField(t *testing.T) {
	svc, _ := newTestService(t, zap.NewNop())
	ctx := context.Background()

	d, err := svc.SetDetailField(ctx, "u1", "lifestyleHabits", "exercise", details.String("runs twice a week"))
	require.NoError(t, err)
	v, ok := d.Get(details.LifestyleHabits, "exercise")
	require.True(t, ok)
	assert.Equal(t, "runs twice a week", v.Str())

	tests := []struct {
		name     string
		category string
		field    string
	}{
		{"unknown category", "hobbies", "chess"},
		{"empty field", "lifestyleHabits", "  "},
		{"sensitive field", "workPurpose", "Credit_Card_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SetDetailField(ctx, "u1", tt.category, tt.field, details.String("x"))
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestGet_MalformedColumnReadsEmpty(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	svc, db := newTestService(t, zap.New(core))
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "u1", &Profile{Name: "River", Health: Section{"sleep": "poor"}})
	require.NoError(t, err)
	_, err = db.DB().ExecContext(ctx,
		`UPDATE profiles SET demographics = '{not json', personal_details = '[1,2' WHERE user_id = ?`, "u1")
	require.NoError(t, err)

	p, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, p.Demographics)
	assert.Empty(t, p.PersonalDetails)
	assert.Equal(t, "poor", p.Health["sleep"])
	assert.Equal(t, 2, logs.Len())
}

func TestEraseUser(t *testing.T) {
	svc, _ := newTestService(t, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "u1", &Profile{Name: "River"})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, "u2", &Profile{Name: "Sky"})
	require.NoError(t, err)

	require.NoError(t, svc.EraseUser(ctx, "u1"))
	require.NoError(t, svc.EraseUser(ctx, "u1"))

	_, err = svc.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, "u2")
	assert.NoError(t, err)
}
