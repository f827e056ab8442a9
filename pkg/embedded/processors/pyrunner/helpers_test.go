package pyrunner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func marshalJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
