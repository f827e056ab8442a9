package pyrunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func envSources() []EnvSource {
	return []EnvSource{
		{Name: "primary", Values: map[string]string{"API_KEY": "first", "HOST": "a.example"}},
		{Name: "secondary", Values: map[string]string{"API_KEY": "second", "PORT": "5432"}},
	}
}

func TestMergeEnvSources_LastWins(t *testing.T) {
	merged, provenance := MergeEnvSources(envSources(), MergeLastWins)

	assert.Equal(t, "second", merged["API_KEY"])
	assert.Equal(t, "a.example", merged["HOST"])
	assert.Equal(t, "5432", merged["PORT"])
	assert.Equal(t, "secondary", provenance["API_KEY"])
	assert.Equal(t, "primary", provenance["HOST"])
}

func TestMergeEnvSources_FirstWins(t *testing.T) {
	merged, provenance := MergeEnvSources(envSources(), MergeFirstWins)

	assert.Equal(t, "first", merged["API_KEY"])
	assert.Equal(t, "primary", provenance["API_KEY"])
	assert.Equal(t, "5432", merged["PORT"])
}

func TestMergeEnvSources_PrefixSource(t *testing.T) {
	merged, _ := MergeEnvSources(envSources(), MergePrefixSource)

	assert.Equal(t, "first", merged["primary_API_KEY"])
	assert.Equal(t, "second", merged["secondary_API_KEY"])
	assert.Len(t, merged, 4)
}

func TestMergeEnvSources_PureFold(t *testing.T) {
	sources := envSources()
	MergeEnvSources(sources, MergeLastWins)

	// Inputs are never mutated.
	assert.Equal(t, "first", sources[0].Values["API_KEY"])
	assert.Len(t, sources[0].Values, 2)
}

func TestMergeEnvSources_Empty(t *testing.T) {
	merged, provenance := MergeEnvSources(nil, MergeLastWins)
	assert.Empty(t, merged)
	assert.Empty(t, provenance)
}

func TestSystemEnvSource_Allowlist(t *testing.T) {
	t.Setenv("PYRUN_TEST_VAR", "present")

	src := SystemEnvSource([]string{"PYRUN_TEST_VAR", "PYRUN_DEFINITELY_UNSET"})
	assert.Equal(t, "system", src.Name)
	assert.Equal(t, map[string]string{"PYRUN_TEST_VAR": "present"}, src.Values)
}
