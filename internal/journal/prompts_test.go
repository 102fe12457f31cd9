package journal

import (
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/counsellor/internal/details"
	"github.com/HerbHall/counsellor/internal/profile"
)

func TestTherapySystemPrompt_NoProfile(t *testing.T) {
	got := TherapySystemPrompt(nil, "")
	if !strings.Contains(got, "Name: the user") {
		t.Error("prompt without profile should address the user generically")
	}
	if strings.Contains(got, NewSessionStart) {
		t.Error("prompt without a last session should not mention the session marker")
	}
}

func TestTherapySystemPrompt_WithProfile(t *testing.T) {
	p := &profile.Profile{
		Name:            "River",
		TherapyGoals:    profile.Section{"primary": "less anxiety"},
		SensitiveTopics: profile.Section{"avoid": "family"},
		PersonalDetails: details.Details{
			details.Relationships: {"partner_name": details.String("Sam")},
			details.GoalsPlans:    {"short_term_goals": details.List("walk daily")},
		},
	}
	got := TherapySystemPrompt(p, "Your last session with the user was 2 days ago")

	for _, want := range []string{
		"support River's personal growth",
		`Therapy goals: {"primary":"less anxiety"}`,
		"Sensitive topics to avoid:",
		"## Relationships:",
		"  - partner_name: Sam",
		`  - short_term_goals: ["walk daily"]`,
		"Note: Your last session with the user was 2 days ago.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "Demographics:") {
		t.Error("empty sections should be omitted")
	}
}

func TestSinceLastSession(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		last time.Time
		want string
	}{
		{"never", time.Time{}, ""},
		{"minutes", now.Add(-20 * time.Minute), "less than an hour ago"},
		{"one hour", now.Add(-90 * time.Minute), "was 1 hour ago"},
		{"hours", now.Add(-5 * time.Hour), "was 5 hours ago"},
		{"days", now.Add(-3 * 24 * time.Hour), "was 3 days ago"},
		{"weeks", now.Add(-21 * 24 * time.Hour), "was 3 weeks ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SinceLastSession(tt.last, now)
			if tt.want == "" {
				if got != "" {
					t.Errorf("SinceLastSession() = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("SinceLastSession() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
