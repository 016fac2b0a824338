package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct{ messages []string }

func (l *recordingLogger) Warn(msg string) { l.messages = append(l.messages, msg) }

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New(nil)
	_, err := r.Register("users", nil, RegisterOptions{})
	require.NoError(t, err)

	_, err = r.Register("users", nil, RegisterOptions{})
	require.Error(t, err)
	var dup *DuplicateCollectionError
	require.ErrorAs(t, err, &dup)
}

func TestRegisterDefaults(t *testing.T) {
	r := New(nil)
	desc, err := r.Register("users", nil, RegisterOptions{})
	require.NoError(t, err)
	require.Equal(t, "id", desc.PrimaryKeyField)
	require.Equal(t, 1, desc.Version)
}

func TestRegisterLowersLegacyConstraints(t *testing.T) {
	logger := &recordingLogger{}
	r := New(logger)
	desc, err := r.Register("users", nil, RegisterOptions{
		LegacyConstraints: map[string]LegacyConstraint{
			"email": {Type: "string", Unique: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, logger.messages, 1)
	require.Equal(t, TypeText, desc.ConstrainedFields["email"].Type)
	require.True(t, desc.ConstrainedFields["email"].Unique)
}

func TestGetHasListClear(t *testing.T) {
	r := New(nil)
	require.False(t, r.Has("users"))
	require.Nil(t, r.Get("users"))

	_, err := r.Register("users", nil, RegisterOptions{})
	require.NoError(t, err)
	require.True(t, r.Has("users"))
	require.Equal(t, []string{"users"}, r.List())

	r.Clear()
	require.False(t, r.Has("users"))
	require.Empty(t, r.List())
}

func TestResolveFallsBackToJSONExtract(t *testing.T) {
	r := New(nil)
	_, err := r.Register("users", nil, RegisterOptions{
		ConstrainedFields: map[string]ConstrainedFieldDef{
			"email": {Type: TypeText, Unique: true},
		},
	})
	require.NoError(t, err)

	require.Equal(t, "users.email", r.Resolve("users", "email"))
	require.Equal(t, `json_extract(users.doc, '$.profile.age')`, r.Resolve("users", "profile.age"))
}

func TestResolveDottedConstrainedFieldUsesUnderscoredColumn(t *testing.T) {
	r := New(nil)
	_, err := r.Register("users", nil, RegisterOptions{
		ConstrainedFields: map[string]ConstrainedFieldDef{
			"profile.email": {Type: TypeText},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "users.profile_email", r.Resolve("users", "profile.email"))
}
