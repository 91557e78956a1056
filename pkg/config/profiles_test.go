package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinMockProfileResolves(t *testing.T) {
	profiles := Builtin()

	profile, err := profiles.Resolve("mock")
	require.NoError(t, err)

	spec, ok := profile[CategoryLLM]["response_main"]
	require.True(t, ok)
	assert.Equal(t, "mock", spec.Name)

	vec, ok := profile[CategoryVectorDB]["db"]
	require.True(t, ok)
	assert.Equal(t, "mock", vec.Name)
	assert.Equal(t, 0.5, vec.Args["threshold"])
}

func TestPointerProfileResolvesToTarget(t *testing.T) {
	profiles := Builtin()

	direct, err := profiles.Resolve("standard")
	require.NoError(t, err)
	viaPointer, err := profiles.Resolve("default")
	require.NoError(t, err)

	assert.Equal(t, direct[CategoryLLM]["response_main"], viaPointer[CategoryLLM]["response_main"])
}

func TestPointerCycleRejected(t *testing.T) {
	data := []byte(`
version = 1.0

[a]
type = "pointer"
ptr = "b"

[b]
type = "pointer"
ptr = "a"
`)
	profiles, err := Parse(data)
	require.NoError(t, err)

	_, err = profiles.Resolve("a")
	assert.ErrorIs(t, err, ErrPointerCycle)
}

func TestPointerMissingTargetField(t *testing.T) {
	data := []byte(`
version = 1.0

[dangling]
type = "pointer"
`)
	profiles, err := Parse(data)
	require.NoError(t, err)

	_, err = profiles.Resolve("dangling")
	assert.ErrorIs(t, err, ErrPointerTargetMissing)
}

func TestUnknownProfile(t *testing.T) {
	_, err := Builtin().Resolve("nope")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestVersionMismatchRejected(t *testing.T) {
	_, err := Parse([]byte(`version = 2.0`))
	assert.ErrorIs(t, err, ErrIncompatibleVersion)

	_, err = Parse([]byte(`name = "no version"`))
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestUserProfileAddsToBuiltins(t *testing.T) {
	data := []byte(`
version = 1.0

[custom]
name = "custom"

[custom.llm.response_main]
name = "gemini"
model = "gemini-exp"

[custom.embedding.gen_embed]
name = "openai"

[custom.vector_db.db]
name = "qdrant"

[custom.db.document]
name = "postgres"
`)
	profiles, err := Parse(data)
	require.NoError(t, err)

	profile, err := profiles.Resolve("custom")
	require.NoError(t, err)
	assert.Equal(t, "gemini", profile[CategoryLLM]["response_main"].Name)
	assert.Equal(t, "gemini-exp", profile[CategoryLLM]["response_main"].Args["model"])

	// Built-ins remain reachable alongside user tables.
	_, err = profiles.Resolve("mock")
	assert.NoError(t, err)
}

func TestMissingBackendNameRejected(t *testing.T) {
	data := []byte(`
version = 1.0

[bad]
[bad.llm.response_main]
model = "nameless"
`)
	profiles, err := Parse(data)
	require.NoError(t, err)

	_, err = profiles.Resolve("bad")
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}
