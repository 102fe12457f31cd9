package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/HerbHall/counsellor/internal/journal"
	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"
)

// WriteJSON writes doc as indented JSON.
func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteYAML writes doc as YAML with the same field names as the JSON form.
func WriteYAML(w io.Writer, doc *Document) error {
	generic, err := toGeneric(doc)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// toGeneric round-trips v through JSON so custom JSON marshalers and tags
// also govern the YAML output.
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return out, nil
}

// WriteText writes a human-readable transcript of doc.
func WriteText(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "=== COUNSELLOR DATA EXPORT ===\n")
	fmt.Fprintf(bw, "Export Date: %s\n\n", doc.ExportDate.Format(time.RFC3339))

	if p := doc.Profile; p != nil {
		fmt.Fprintf(bw, "=== YOUR PROFILE ===\n")
		fmt.Fprintf(bw, "Name: %s\n", p.Name)
		fmt.Fprintf(bw, "Age: %s\n", orNotSpecified(p.Demographics["age"]))
		fmt.Fprintf(bw, "Gender: %s\n", orNotSpecified(p.Demographics["gender"]))
		fmt.Fprintf(bw, "\nTherapy Goals:\n")
		fmt.Fprintf(bw, "Primary: %s\n", orNotSpecified(p.TherapyGoals["primary_goal"]))
		fmt.Fprintf(bw, "Secondary: %s\n\n", orNotSpecified(p.TherapyGoals["secondary_goals"]))
	}

	fmt.Fprintf(bw, "=== THERAPY SESSIONS ===\n")
	fmt.Fprintf(bw, "Total Sessions: %d\n\n", len(doc.Conversations))
	for i := range doc.Conversations {
		writeSession(bw, &doc.Conversations[i])
		fmt.Fprintf(bw, "\n%s\n\n", strings.Repeat("=", 50))
	}
	return bw.Flush()
}

func writeSession(w io.Writer, c *journal.Conversation) {
	fmt.Fprintf(w, "--- Session %s ---\n", c.ID)
	fmt.Fprintf(w, "Date: %s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Type: %s\n", c.SessionType)
	if c.Duration > 0 {
		fmt.Fprintf(w, "Duration: %d minutes\n", (c.Duration+30)/60)
	} else {
		fmt.Fprintf(w, "Duration: Not recorded\n")
	}
	fmt.Fprintf(w, "Initial Mood: %s\n", mood(c.InitialMood))
	fmt.Fprintf(w, "End Mood: %s\n", mood(c.EndMood))
	if c.AISummary != "" {
		fmt.Fprintf(w, "\nSummary:\n%s\n", c.AISummary)
	}
	fmt.Fprintf(w, "\nConversation:\n")
	for _, m := range c.Messages {
		if m.Role == "system" {
			continue
		}
		speaker := "Therapist"
		if m.Role == "user" {
			speaker = "You"
		}
		fmt.Fprintf(w, "\n[%s]: %s\n", speaker, m.Content)
	}
}

func mood(m *int) string {
	if m == nil {
		return "Not recorded"
	}
	return fmt.Sprintf("%d", *m)
}

func orNotSpecified(v any) string {
	if v == nil {
		return "Not specified"
	}
	s := fmt.Sprint(v)
	if s == "" {
		return "Not specified"
	}
	return s
}

const readme = `Counsellor Data Export
======================

This archive contains all your Counsellor data.

Contents:
- export.json: everything in one JSON document
- export.txt: a readable transcript of every session
- profile.json: your profile and what has been learned about you
- conversations/: one JSON file per session

Each conversation file includes the session metadata (date, duration,
mood ratings), the complete message history and the AI-generated summary.

Export date: %s
`

// WriteArchive writes doc as a zip archive with the JSON and text exports,
// the profile and one file per conversation.
func WriteArchive(w io.Writer, doc *Document) error {
	zw := zip.NewWriter(w)

	add := func(name string, fill func(io.Writer) error) error {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: doc.ExportDate,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		return fill(f)
	}
	indented := func(v any) func(io.Writer) error {
		return func(f io.Writer) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
	}

	if err := add("export.json", indented(doc)); err != nil {
		return err
	}
	if err := add("export.txt", func(f io.Writer) error { return WriteText(f, doc) }); err != nil {
		return err
	}
	if doc.Profile != nil {
		if err := add("profile.json", indented(doc.Profile)); err != nil {
			return err
		}
	}
	for i := range doc.Conversations {
		c := &doc.Conversations[i]
		name := fmt.Sprintf("conversations/session_%s_%s.json", c.ID, c.CreatedAt.Format(time.DateOnly))
		if err := add(name, indented(c)); err != nil {
			return err
		}
	}
	if err := add("README.txt", func(f io.Writer) error {
		_, err := fmt.Fprintf(f, readme, doc.ExportDate.Format(time.RFC3339))
		return err
	}); err != nil {
		return err
	}
	return zw.Close()
}
