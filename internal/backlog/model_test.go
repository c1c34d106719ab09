package backlog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBacklog() *Backlog {
	return &Backlog{
		ProjectName: "demo",
		Description: "demo project",
		Stories: []Story{
			{ID: 1, Title: "First story"},
			{ID: 2, Title: "Second story"},
			{ID: 3, Title: "Third story"},
		},
	}
}

func TestBacklog_Validate(t *testing.T) {
	t.Run("accepts valid backlog", func(t *testing.T) {
		b := newTestBacklog()
		require.NoError(t, b.Validate())
	})

	t.Run("rejects missing project name", func(t *testing.T) {
		b := newTestBacklog()
		b.ProjectName = ""
		err := b.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project_name")
	})

	t.Run("rejects duplicate story ids", func(t *testing.T) {
		b := newTestBacklog()
		b.Stories[2].ID = 1
		err := b.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("rejects non-positive story id", func(t *testing.T) {
		b := newTestBacklog()
		b.Stories[0].ID = 0
		assert.Error(t, b.Validate())
	})

	t.Run("rejects story without title", func(t *testing.T) {
		b := newTestBacklog()
		b.Stories[1].Title = ""
		assert.Error(t, b.Validate())
	})

	t.Run("accepts zero stories", func(t *testing.T) {
		b := &Backlog{ProjectName: "empty"}
		require.NoError(t, b.Validate())
	})
}

func TestBacklog_NextPending(t *testing.T) {
	t.Run("returns first pending story in order", func(t *testing.T) {
		b := newTestBacklog()
		b.Stories[0].Passes = true

		next := b.NextPending()
		require.NotNil(t, next)
		assert.Equal(t, 2, next.ID)
	})

	t.Run("returns nil when all pass", func(t *testing.T) {
		b := newTestBacklog()
		for i := range b.Stories {
			b.Stories[i].Passes = true
		}
		assert.Nil(t, b.NextPending())
	})
}

func TestBacklog_AllComplete(t *testing.T) {
	t.Run("false while any story pending", func(t *testing.T) {
		b := newTestBacklog()
		b.Stories[0].Passes = true
		assert.False(t, b.AllComplete())
	})

	t.Run("true when every story passes", func(t *testing.T) {
		b := newTestBacklog()
		for i := range b.Stories {
			b.Stories[i].Passes = true
		}
		assert.True(t, b.AllComplete())
	})

	t.Run("vacuously true for zero stories", func(t *testing.T) {
		b := &Backlog{ProjectName: "empty"}
		assert.True(t, b.AllComplete())
		assert.True(t, b.IsEmpty())
	})
}

func TestBacklog_AddStory(t *testing.T) {
	t.Run("assigns next free id", func(t *testing.T) {
		b := newTestBacklog()
		story := b.AddStory("Fourth story", "desc", []string{"criterion"})
		assert.Equal(t, 4, story.ID)
		assert.Len(t, b.Stories, 4)
	})

	t.Run("starts at 1 on empty backlog", func(t *testing.T) {
		b := &Backlog{ProjectName: "empty"}
		story := b.AddStory("First", "", nil)
		assert.Equal(t, 1, story.ID)
	})
}

func TestBacklog_ProgressSummary(t *testing.T) {
	b := newTestBacklog()
	b.Stories[0].Passes = true
	assert.Equal(t, "1/3 stories complete", b.ProgressSummary())
}

func TestBacklog_UnknownFieldRoundTrip(t *testing.T) {
	t.Run("preserves unknown top-level fields", func(t *testing.T) {
		doc := `{
			"project_name": "demo",
			"description": "d",
			"stories": [],
			"schema_version": 2,
			"metadata": {"owner": "alice"}
		}`

		var b Backlog
		require.NoError(t, json.Unmarshal([]byte(doc), &b))

		out, err := json.Marshal(b)
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out, &raw))
		assert.Contains(t, raw, "schema_version")
		assert.Contains(t, raw, "metadata")
		assert.JSONEq(t, `{"owner": "alice"}`, string(raw["metadata"]))
	})

	t.Run("preserves unknown story fields", func(t *testing.T) {
		doc := `{
			"project_name": "demo",
			"description": "d",
			"stories": [{"id": 1, "title": "s", "passes": false, "priority": 7}]
		}`

		var b Backlog
		require.NoError(t, json.Unmarshal([]byte(doc), &b))
		require.Len(t, b.Stories, 1)

		out, err := json.Marshal(b.Stories[0])
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out, &raw))
		assert.Contains(t, raw, "priority")
		assert.Equal(t, "7", string(raw["priority"]))
	})

	t.Run("known fields win over stale extras", func(t *testing.T) {
		now := time.Now().Truncate(time.Second)
		b := newTestBacklog()
		b.Stories[0].Passes = true
		b.Stories[0].CompletedAt = &now

		out, err := json.Marshal(b)
		require.NoError(t, err)

		var decoded Backlog
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.True(t, decoded.Stories[0].Passes)
		require.NotNil(t, decoded.Stories[0].CompletedAt)
		assert.True(t, now.Equal(*decoded.Stories[0].CompletedAt))
	})
}

func TestBacklog_FindStory(t *testing.T) {
	b := newTestBacklog()
	assert.NotNil(t, b.FindStory(2))
	assert.Nil(t, b.FindStory(42))
}
