package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const azuriteConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1"

func TestNewAzureBlobClient_Validation(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewAzureBlobClient("", "results", logger)
	require.Error(t, err)

	_, err = NewAzureBlobClient(azuriteConnectionString, "", logger)
	require.Error(t, err)

	_, err = NewAzureBlobClient("AccountName=only", "results", logger)
	require.Error(t, err, "account key is required")
}

func TestNewAzureBlobClient_Azurite(t *testing.T) {
	client, err := NewAzureBlobClient(azuriteConnectionString, "results", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1", client.serviceURL)
	assert.Equal(t, "results", client.containerName)
}

func TestNewAzureBlobClient_DefaultEndpoint(t *testing.T) {
	conn := "AccountName=prodaccount;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	client, err := NewAzureBlobClient(conn, "results", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "https://prodaccount.blob.core.windows.net", client.serviceURL)
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("A=1;B=two=2; C=3 ;;")
	assert.Equal(t, "1", params["A"])
	assert.Equal(t, "two=2", params["B"], "values may contain equals signs")
	assert.Equal(t, "3 ", params["C"])
}

func TestExtractBlobPath(t *testing.T) {
	client, err := NewAzureBlobClient(azuriteConnectionString, "results", zap.NewNop())
	require.NoError(t, err)

	cases := []struct {
		name      string
		reference string
		want      string
		wantErr   bool
	}{
		{"full URL", "http://127.0.0.1:10000/devstoreaccount1/results/wf/exec/node.json", "wf/exec/node.json", false},
		{"URL with SAS query", "http://127.0.0.1:10000/devstoreaccount1/results/a.json?sig=abc", "a.json", false},
		{"bare path", "results/wf/exec/node.json", "wf/exec/node.json", false},
		{"path without container prefix", "wf/exec/node.json", "wf/exec/node.json", false},
		{"escaped path", "results/wf%20name/node.json", "wf name/node.json", false},
		{"empty", "", "", true},
		{"whitespace", "   ", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := client.extractBlobPath(tc.reference)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
