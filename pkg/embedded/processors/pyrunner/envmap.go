package pyrunner

import (
	"os"
	"sort"
)

// MergePolicy controls how conflicting keys across environment sources are
// resolved.
type MergePolicy string

const (
	// MergeLastWins keeps the value from the source listed last
	MergeLastWins MergePolicy = "lastWins"
	// MergeFirstWins keeps the value from the source listed first
	MergeFirstWins MergePolicy = "firstWins"
	// MergePrefixSource prefixes every key with its source name, so no
	// conflicts can occur
	MergePrefixSource MergePolicy = "prefixSource"
)

// EnvSource is one named credential (or system) mapping contributing to the
// merged environment map.
type EnvSource struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

// MergeEnvSources folds the ordered source list into a single flat map per
// the policy. The second return value maps each merged key to the name of
// the source that supplied it; callers that do not need provenance can
// discard it. The fold is pure: sources are never mutated and the result is
// rebuilt on every call.
func MergeEnvSources(sources []EnvSource, policy MergePolicy) (map[string]string, map[string]string) {
	merged := make(map[string]string)
	provenance := make(map[string]string)

	for _, src := range sources {
		keys := sortedKeys(src.Values)
		for _, key := range keys {
			value := src.Values[key]
			switch policy {
			case MergePrefixSource:
				prefixed := key
				if name, ok := SanitizeVariableName(src.Name, DefaultVariablePrefix); ok {
					prefixed = name + "_" + key
				}
				merged[prefixed] = value
				provenance[prefixed] = src.Name
			case MergeFirstWins:
				if _, exists := merged[key]; exists {
					continue
				}
				merged[key] = value
				provenance[key] = src.Name
			default: // MergeLastWins
				merged[key] = value
				provenance[key] = src.Name
			}
		}
	}

	return merged, provenance
}

// SystemEnvSource builds an EnvSource from the host process environment,
// restricted to the given allowlist. Unset variables are omitted.
func SystemEnvSource(allowlist []string) EnvSource {
	values := make(map[string]string, len(allowlist))
	for _, name := range allowlist {
		if v, ok := os.LookupEnv(name); ok {
			values[name] = v
		}
	}
	return EnvSource{Name: "system", Values: values}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic fold order keeps generated scripts byte-identical
	// across runs.
	sort.Strings(keys)
	return keys
}
