// Package backlog provides the persistent story backlog for the loop harness.
package backlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Story represents a single unit of work in the backlog.
type Story struct {
	// ID is the unique, stable identifier of the story within the backlog.
	ID int `json:"id"`

	// Title is the short summary of the story.
	Title string `json:"title"`

	// Description is the detailed description of the story.
	Description string `json:"description,omitempty"`

	// AcceptanceCriteria lists the verifiable acceptance criteria in order.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`

	// Passes is true once the story has been completed. The controller only
	// ever transitions this false to true, never back.
	Passes bool `json:"passes"`

	// CompletedAt is set on the first transition of Passes to true.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// extra holds unknown JSON fields so they round-trip through load/save.
	extra map[string]json.RawMessage
}

// storyKnownFields is the set of JSON keys owned by Story.
var storyKnownFields = map[string]bool{
	"id":                  true,
	"title":               true,
	"description":         true,
	"acceptance_criteria": true,
	"passes":              true,
	"completed_at":        true,
}

// storyAlias avoids recursing into the custom JSON methods.
type storyAlias Story

// UnmarshalJSON decodes a story, retaining any fields it does not know about.
func (s *Story) UnmarshalJSON(data []byte) error {
	var alias storyAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if storyKnownFields[key] {
			delete(raw, key)
		}
	}
	if len(raw) == 0 {
		raw = nil
	}

	*s = Story(alias)
	s.extra = raw
	return nil
}

// MarshalJSON encodes a story including any retained unknown fields.
func (s Story) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(storyAlias(s), s.extra)
}

// Backlog is the durable, ordered list of stories for a project.
type Backlog struct {
	// ProjectName is the human-readable name of the project.
	ProjectName string `json:"project_name"`

	// Description is the project description.
	Description string `json:"description"`

	// Stories is the ordered list of work items.
	Stories []Story `json:"stories"`

	// extra holds unknown top-level JSON fields so they round-trip.
	extra map[string]json.RawMessage
}

// backlogKnownFields is the set of JSON keys owned by Backlog.
var backlogKnownFields = map[string]bool{
	"project_name": true,
	"description":  true,
	"stories":      true,
}

type backlogAlias Backlog

// UnmarshalJSON decodes a backlog, retaining unknown top-level fields.
func (b *Backlog) UnmarshalJSON(data []byte) error {
	var alias backlogAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if backlogKnownFields[key] {
			delete(raw, key)
		}
	}
	if len(raw) == 0 {
		raw = nil
	}

	*b = Backlog(alias)
	b.extra = raw
	return nil
}

// MarshalJSON encodes a backlog including any retained unknown fields.
func (b Backlog) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(backlogAlias(b), b.extra)
}

// marshalWithExtra merges the known fields of v with retained unknown fields.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	known, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(extra)+8)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Validate checks that the backlog has all required fields and valid values.
// Returns an error describing the first validation failure, or nil if valid.
func (b *Backlog) Validate() error {
	if b.ProjectName == "" {
		return fmt.Errorf("backlog project_name is required")
	}

	seen := make(map[int]bool, len(b.Stories))
	for i := range b.Stories {
		story := &b.Stories[i]
		if story.ID <= 0 {
			return fmt.Errorf("story at index %d has invalid id: %d", i, story.ID)
		}
		if seen[story.ID] {
			return fmt.Errorf("duplicate story id: %d", story.ID)
		}
		seen[story.ID] = true
		if story.Title == "" {
			return fmt.Errorf("story %d title is required", story.ID)
		}
	}

	return nil
}

// FindStory returns the story with the given ID, or nil if not present.
func (b *Backlog) FindStory(id int) *Story {
	for i := range b.Stories {
		if b.Stories[i].ID == id {
			return &b.Stories[i]
		}
	}
	return nil
}

// NextPending returns the first story in order with Passes false,
// or nil if every story passes.
func (b *Backlog) NextPending() *Story {
	for i := range b.Stories {
		if !b.Stories[i].Passes {
			return &b.Stories[i]
		}
	}
	return nil
}

// AllComplete reports whether every story has Passes true. A backlog with
// zero stories is vacuously complete; callers that care distinguish the
// empty case via IsEmpty before trusting this.
func (b *Backlog) AllComplete() bool {
	for i := range b.Stories {
		if !b.Stories[i].Passes {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the backlog contains no stories.
func (b *Backlog) IsEmpty() bool {
	return len(b.Stories) == 0
}

// CompletedCount returns the number of stories with Passes true.
func (b *Backlog) CompletedCount() int {
	count := 0
	for i := range b.Stories {
		if b.Stories[i].Passes {
			count++
		}
	}
	return count
}

// ProgressSummary returns a short "N/M stories complete" description.
func (b *Backlog) ProgressSummary() string {
	return fmt.Sprintf("%d/%d stories complete", b.CompletedCount(), len(b.Stories))
}

// NextID returns the smallest story ID not yet in use, starting at 1.
func (b *Backlog) NextID() int {
	max := 0
	for i := range b.Stories {
		if b.Stories[i].ID > max {
			max = b.Stories[i].ID
		}
	}
	return max + 1
}

// AddStory appends a new story with the next free ID and returns it.
func (b *Backlog) AddStory(title, description string, acceptanceCriteria []string) *Story {
	story := Story{
		ID:                 b.NextID(),
		Title:              title,
		Description:        description,
		AcceptanceCriteria: acceptanceCriteria,
	}
	b.Stories = append(b.Stories, story)
	return &b.Stories[len(b.Stories)-1]
}
