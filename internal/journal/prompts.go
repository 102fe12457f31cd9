package journal

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HerbHall/counsellor/internal/details"
	"github.com/HerbHall/counsellor/internal/profile"
)

// NewSessionStart is sent as the user turn that asks the model to open a
// session.
const NewSessionStart = "[NEW_SESSION_START]"

const therapyGuidelines = `You're an AI therapist whose role is to support %[1]s's personal growth and well-being. Maintain continuity with prior conversations and the core traits defined in this prompt.

Each session, you will:

Provide an inviting, non-judgmental space for the user to reflect on their thoughts, feelings, and experiences.

Leave ample space for the user to express themselves fully before jumping in with your own thoughts.

Periodically pause and clarify whether you're grasping %[1]s's perspective accurately. Check for understanding rather than assuming you know where they're coming from.

Avoid physical descriptions or emotive cues that could come across as inauthentic. Don't lapse into the third person.

Analyse each entry for patterns related to moods, mindsets, behaviors, and challenges. Over time, identify trends and insights that could be helpful for the user to be aware of.

Offer affirmations, encouragement, and emotional support. Validate their experiences and efforts toward self-improvement.

Suggest evidence-based exercises drawn from Cognitive Behavioral Therapy, mindfulness, and positive psychology based on the patterns you identify.

If the user expresses thoughts of self-harm, suicide, or another mental health crisis, provide crisis resources and encourage them to seek immediate professional help. Your role is to support well-being but not to handle emergencies.

Offer the user the option to set personal goals and track progress toward them. Help break goals down into manageable steps.

Respect the user's autonomy and avoid being prescriptive, but gently challenge cognitive distortions and maladaptive thought patterns.

Maintain a warm, friendly, and empathetic tone without imitating a human. Be transparent about being an AI while remaining a supportive presence.

Encourage reflection on positive experiences, gratitude, and personal strengths, not just challenges.

Encourage self-care: regular exercise, good sleep, healthy eating, social connection, and enjoyable activities.

Keep answers reasonably concise, but provide detailed insight where appropriate.

The user may sometimes send a partial message. Ask them to elaborate when that happens.`

// categoryTitles are the headings used when listing learned details.
var categoryTitles = map[details.Category]string{
	details.PersonalProfile:       "Personal Profile",
	details.Relationships:         "Relationships",
	details.WorkPurpose:           "Work & Purpose",
	details.HealthWellbeing:       "Health & Wellbeing",
	details.LifestyleHabits:       "Lifestyle & Habits",
	details.GoalsPlans:            "Goals & Plans",
	details.PatternsInsights:      "Patterns & Insights",
	details.PreferencesBoundaries: "Preferences & Boundaries",
}

// TherapySystemPrompt builds the system prompt for a session. p may be nil.
// lastSession, when non-empty, describes the time since the last session.
func TherapySystemPrompt(p *profile.Profile, lastSession string) string {
	name := "the user"
	if p != nil && p.Name != "" {
		name = p.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, therapyGuidelines, name)

	b.WriteString("\n\nHere is important context about the user:")
	fmt.Fprintf(&b, "\nName: %s", name)
	if p != nil {
		writeSection(&b, "Demographics", p.Demographics)
		writeSection(&b, "Spiritual beliefs", p.Spirituality)
		writeSection(&b, "Therapy goals", p.TherapyGoals)
		writeSection(&b, "Communication preferences", p.Preferences)
		writeSection(&b, "Health concerns", p.Health)
		writeSection(&b, "Mental health status", p.MentalHealthScreening)
		writeSection(&b, "Sensitive topics to avoid", p.SensitiveTopics)
		writeDetails(&b, p.PersonalDetails)
	}

	if lastSession != "" {
		fmt.Fprintf(&b, "\n\nNote: %s. When responding to a %s message, accurately acknowledge how long it's been since your last conversation and invite them to share what's on their mind today.",
			lastSession, NewSessionStart)
	}
	return b.String()
}

func writeSection(b *strings.Builder, title string, s profile.Section) {
	if len(s) == 0 {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "\n%s: %s", title, raw)
}

func writeDetails(b *strings.Builder, d details.Details) {
	if d.Len() == 0 {
		return
	}
	b.WriteString("\n\nPersonal context from previous sessions:")
	for _, c := range details.Categories {
		fields := d[c]
		if len(fields) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n\n## %s:", categoryTitles[c])

		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := fields[name]
			if v.IsEmpty() {
				continue
			}
			fmt.Fprintf(b, "\n  - %s: %s", name, formatValue(v))
		}
	}
}

func formatValue(v details.Value) string {
	if v.Kind() == details.KindString {
		return v.Str()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// SinceLastSession describes the gap between last and now, or returns ""
// when there was no previous session.
func SinceLastSession(last, now time.Time) string {
	if last.IsZero() {
		return ""
	}
	gap := now.Sub(last)
	switch {
	case gap < time.Hour:
		return "Your last session with the user ended less than an hour ago"
	case gap < 24*time.Hour:
		return "Your last session with the user was " + plural(int(gap/time.Hour), "hour") + " ago"
	case gap < 14*24*time.Hour:
		return "Your last session with the user was " + plural(int(gap/(24*time.Hour)), "day") + " ago"
	default:
		return "Your last session with the user was " + plural(int(gap/(7*24*time.Hour)), "week") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// SummaryPrompt asks for the end-of-session analysis as JSON.
const SummaryPrompt = `You are analyzing a therapy conversation.
Generate a concise summary (2-3 sentences), identify 3 key patterns or themes,
and suggest 2-3 follow-up topics for the next session.

Always write the summary in the second person, addressing the user directly as "you".
For example: "You discussed challenges with anxiety", not "The user discussed challenges with anxiety".

Respond with JSON in exactly this shape:
{
  "summary": "Brief summary of the session",
  "patterns": ["pattern 1", "pattern 2", "pattern 3"],
  "followupSuggestions": ["suggestion 1", "suggestion 2"]
}`

// ExtractionPrompt asks for the personal details mentioned in a session.
const ExtractionPrompt = `Extract personal details from this therapy conversation and organize them into the following categories. Only include information the user explicitly mentioned.

Categories:
- personalProfile: name, age, gender, location, cultural_background, values, personality_traits, life_stage
- relationships: partner_name, relationship_status, relationship_duration, family_info, social_connections, relationship_dynamics, family_planning
- workPurpose: occupation, business_details, colleagues, career_aspirations, skills_strengths, financial_situation, purpose
- healthWellbeing: physical_health, mental_health, medications, sleep_patterns, exercise, health_history, self_care
- lifestyleHabits: daily_routine, hobbies, substance_use, diet, living_situation, leisure, stress_management
- goalsPlans: therapy_goals, short_term_goals, long_term_goals, upcoming_events, travel_plans, personal_development, milestones
- patternsInsights: recurring_themes, behavioral_patterns, triggers, progress_markers, coping_strategies, growth_areas
- preferencesBoundaries: communication_style, spiritual_beliefs, therapy_preferences, sensitive_topics, avoid_topics, cultural_considerations

Return a JSON object with these categories as keys, containing only the information found in the conversation.`

// fallbackSummary is stored when the model cannot produce a summary.
func fallbackSummary() Summary {
	return Summary{
		Summary:             "Session completed",
		Patterns:            []string{"Unable to generate patterns"},
		FollowupSuggestions: []string{"Continue conversation in next session"},
	}
}
