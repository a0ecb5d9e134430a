package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souqnear/ranking-service/internal/handlers"
	"github.com/souqnear/ranking-service/internal/ranking"
)

func TestGenerateGroupSchema(t *testing.T) {
	schema := generateGroupSchema(SchemaGroup{
		Name:  "events",
		Types: []any{ranking.OfferChange{}, handlers.OfferEventAccepted{}},
	})

	assert.Equal(t, "Events API Types", schema["title"])
	defs, ok := schema["$defs"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, defs, "OfferChange")
	assert.Contains(t, defs, "Offer", "nested types are included")
	assert.Contains(t, defs, "OfferEventAccepted")
}

func TestWriteSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, writeSchema(map[string]any{"title": "Jobs API Types"}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Jobs API Types", decoded["title"])
}
