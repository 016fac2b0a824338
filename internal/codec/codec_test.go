package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := map[string]any{
		"name": "Ada",
		"tags": []any{"a", "b"},
		"meta": map[string]any{
			"createdAt": now,
			"count":     float64(3),
		},
	}

	encoded, err := Encode(doc)
	require.NoError(t, err)
	require.Contains(t, encoded, `"__type":"Date"`)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	m, ok := decoded.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Ada", m["name"])

	meta, ok := m["meta"].(map[string]any)
	require.True(t, ok)
	gotTime, ok := meta["createdAt"].(time.Time)
	require.True(t, ok)
	require.True(t, now.Equal(gotTime))
}

func TestEncodeEncodeIsStable(t *testing.T) {
	doc := map[string]any{"a": 1.0, "b": "x"}
	e1, err := Encode(doc)
	require.NoError(t, err)
	decoded, err := Decode(e1)
	require.NoError(t, err)
	e2, err := Encode(decoded)
	require.NoError(t, err)

	d1, err := Decode(e1)
	require.NoError(t, err)
	d2, err := Decode(e2)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestMergeConstrainedOverridesDottedPath(t *testing.T) {
	doc := map[string]any{
		"profile": map[string]any{
			"email": "stale@example.com",
		},
		"name": "Ada",
	}

	merged := MergeConstrained(doc, map[string]any{
		"profile.email": "fresh@example.com",
		"age":           nil,
	})

	profile := merged["profile"].(map[string]any)
	require.Equal(t, "fresh@example.com", profile["email"])
	require.Equal(t, "Ada", merged["name"])
	require.Nil(t, merged["age"])
}

func TestGetPath(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": map[string]any{"c": 42.0}}}
	v, ok := GetPath(doc, "a.b.c")
	require.True(t, ok)
	require.Equal(t, 42.0, v)

	_, ok = GetPath(doc, "a.x.c")
	require.False(t, ok)
}
