package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEndpointsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEndpoints_AppliesDefaults(t *testing.T) {
	path := writeEndpointsFile(t, `
endpoints:
  - name: Auth API
    url: https://api.example.com/auth
`)

	endpoints, err := LoadEndpoints(path)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)

	e := endpoints[0]
	assert.Equal(t, "Auth API", e.Name)
	assert.Equal(t, "GET", e.Method)
	assert.Equal(t, 200, e.ExpectedStatus)
	assert.Equal(t, 5.0, e.MaxResponseTime)
	assert.Equal(t, 10.0, e.Timeout)
	assert.Equal(t, 3, e.RetryCount)
	assert.Equal(t, 1.0, e.RetryDelay)
}

func TestLoadEndpoints_ExplicitValues(t *testing.T) {
	path := writeEndpointsFile(t, `
endpoints:
  - name: Users API
    url: https://api.example.com/users
    method: post
    expected_status: 201
    max_response_time: 2.5
    timeout: 4
    retry_count: 5
    retry_delay: 0.5
    headers:
      Authorization: Bearer test
    payload:
      query: all
`)

	endpoints, err := LoadEndpoints(path)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)

	e := endpoints[0]
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, 201, e.ExpectedStatus)
	assert.Equal(t, 2.5, e.MaxResponseTime)
	assert.Equal(t, 5, e.RetryCount)
	assert.Equal(t, 0.5, e.RetryDelay)
	assert.Equal(t, "Bearer test", e.Headers["Authorization"])
	assert.Equal(t, "all", e.Payload["query"])
}

func TestLoadEndpoints_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "empty list",
			content: "endpoints: []",
		},
		{
			name: "missing url",
			content: `
endpoints:
  - name: Broken
`,
		},
		{
			name: "missing name",
			content: `
endpoints:
  - url: https://api.example.com/health
`,
		},
		{
			name: "unsupported method",
			content: `
endpoints:
  - name: Bad Method
    url: https://api.example.com/health
    method: DELETE
`,
		},
		{
			name: "negative retry count",
			content: `
endpoints:
  - name: Bad Retries
    url: https://api.example.com/health
    retry_count: -2
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeEndpointsFile(t, tt.content)
			_, err := LoadEndpoints(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadEndpoints_MissingFile(t *testing.T) {
	_, err := LoadEndpoints(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
