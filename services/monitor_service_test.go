package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDoer counts attempts and delegates to a per-call function.
type fakeDoer struct {
	mu    sync.Mutex
	calls int
	fn    func(req *http.Request) (*http.Response, error)
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeDoer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// sleepRecorder replaces the real inter-attempt delay in tests.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) Sleep(d time.Duration) {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
}

func (r *sleepRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sleeps)
}

func timeoutErr() error {
	return &url.Error{Op: "Get", URL: "http://unreachable.test", Err: context.DeadlineExceeded}
}

func connectionErr() error {
	return &url.Error{
		Op:  "Get",
		URL: "http://unreachable.test",
		Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")},
	}
}

func testEndpoint(overrides func(*types.EndpointConfig)) types.EndpointConfig {
	e := types.EndpointConfig{
		Name:            "Auth API",
		URL:             "https://api.example.com/auth",
		Method:          "GET",
		ExpectedStatus:  200,
		MaxResponseTime: 5.0,
		Timeout:         10.0,
		RetryCount:      3,
		RetryDelay:      1.0,
	}
	if overrides != nil {
		overrides(&e)
	}
	return e
}

func newTestMonitor(t *testing.T, endpoints []types.EndpointConfig) (*MonitorService, *fakeDoer, *sleepRecorder) {
	t.Helper()
	resetMonitorMetricsForTesting()

	doer := &fakeDoer{}
	recorder := &sleepRecorder{}

	svc := NewMonitorService(endpoints, 100)
	svc.client = doer
	svc.sleep = recorder.Sleep
	return svc, doer, recorder
}

func TestCheckEndpoint_Healthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resetMonitorMetricsForTesting()
	endpoint := testEndpoint(func(e *types.EndpointConfig) { e.URL = server.URL })
	svc := NewMonitorService([]types.EndpointConfig{endpoint}, 100)

	result := svc.CheckEndpoint(context.Background(), endpoint)

	assert.Equal(t, types.EndpointHealthy, result.Status)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, 200, *result.StatusCode)
	assert.Empty(t, result.ErrorMessage)
	assert.Equal(t, endpoint.Name, result.EndpointName)
	assert.Equal(t, server.URL, result.URL)
	assert.False(t, result.Timestamp.IsZero())
	assert.Equal(t, 1, svc.HistoryDepth())
}

func TestCheckEndpoint_Unhealthy_NoRetry(t *testing.T) {
	endpoint := testEndpoint(nil)
	svc, doer, recorder := newTestMonitor(t, []types.EndpointConfig{endpoint})
	doer.fn = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: http.NoBody}, nil
	}

	result := svc.CheckEndpoint(context.Background(), endpoint)

	assert.Equal(t, types.EndpointUnhealthy, result.Status)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, 503, *result.StatusCode)
	assert.Contains(t, result.ErrorMessage, "200")
	assert.Contains(t, result.ErrorMessage, "503")
	// A received-but-wrong response consumes exactly one attempt.
	assert.Equal(t, 1, doer.Calls())
	assert.Equal(t, 0, recorder.Count())
}

func TestCheckEndpoint_Slow(t *testing.T) {
	endpoint := testEndpoint(func(e *types.EndpointConfig) { e.MaxResponseTime = 0 })
	svc, doer, recorder := newTestMonitor(t, []types.EndpointConfig{endpoint})
	doer.fn = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}

	result := svc.CheckEndpoint(context.Background(), endpoint)

	assert.Equal(t, types.EndpointSlow, result.Status)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, 200, *result.StatusCode)
	assert.Contains(t, result.ErrorMessage, "exceeds threshold")
	assert.Equal(t, 1, doer.Calls())
	assert.Equal(t, 0, recorder.Count())
}

func TestCheckEndpoint_SingleAttemptFailure(t *testing.T) {
	endpoint := testEndpoint(func(e *types.EndpointConfig) { e.RetryCount = 1 })
	svc, doer, recorder := newTestMonitor(t, []types.EndpointConfig{endpoint})
	doer.fn = func(req *http.Request) (*http.Response, error) {
		return nil, connectionErr()
	}

	result := svc.CheckEndpoint(context.Background(), endpoint)

	assert.Equal(t, types.EndpointError, result.Status)
	assert.Nil(t, result.StatusCode)
	assert.Equal(t, "Connection error", result.ErrorMessage)
	assert.Equal(t, 1, doer.Calls())
	// retryCount = 1 means no delay is ever incurred.
	assert.Equal(t, 0, recorder.Count())
}

func TestCheckEndpoint_TimeoutsExhaustRetries(t *testing.T) {
	endpoint := testEndpoint(nil) // RetryCount = 3
	svc, doer, recorder := newTestMonitor(t, []types.EndpointConfig{endpoint})
	doer.fn = func(req *http.Request) (*http.Response, error) {
		return nil, timeoutErr()
	}

	result := svc.CheckEndpoint(context.Background(), endpoint)

	assert.Equal(t, types.EndpointError, result.Status)
	assert.Nil(t, result.StatusCode)
	assert.Contains(t, result.ErrorMessage, "Request timeout after 10s")
	// Exactly 3 attempts and 2 inter-attempt delays.
	assert.Equal(t, 3, doer.Calls())
	assert.Equal(t, 2, recorder.Count())
	assert.Equal(t, time.Second, recorder.sleeps[0])
}

func TestCheckEndpoint_RecoversAfterTransportFailure(t *testing.T) {
	endpoint := testEndpoint(nil)
	svc, doer, recorder := newTestMonitor(t, []types.EndpointConfig{endpoint})
	doer.fn = func(req *http.Request) (*http.Response, error) {
		if doer.Calls() == 1 {
			return nil, connectionErr()
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}

	result := svc.CheckEndpoint(context.Background(), endpoint)

	assert.Equal(t, types.EndpointHealthy, result.Status)
	assert.Equal(t, 2, doer.Calls())
	assert.Equal(t, 1, recorder.Count())
	// One result per invocation regardless of internal retries.
	assert.Equal(t, 1, svc.HistoryDepth())
}

func TestCheckEndpoint_AttemptsNeverExceedRetryCount(t *testing.T) {
	for _, retryCount := range []int{1, 2, 5} {
		endpoint := testEndpoint(func(e *types.EndpointConfig) { e.RetryCount = retryCount })
		svc, doer, _ := newTestMonitor(t, []types.EndpointConfig{endpoint})
		doer.fn = func(req *http.Request) (*http.Response, error) {
			return nil, connectionErr()
		}

		svc.CheckEndpoint(context.Background(), endpoint)
		assert.Equal(t, retryCount, doer.Calls())
	}
}

func TestCheckEndpoint_PostSendsPayload(t *testing.T) {
	var gotContentType string
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	resetMonitorMetricsForTesting()
	endpoint := testEndpoint(func(e *types.EndpointConfig) {
		e.URL = server.URL
		e.Method = "POST"
		e.ExpectedStatus = 201
		e.Headers = map[string]string{"X-Api-Key": "secret"}
		e.Payload = map[string]interface{}{"query": "all"}
	})
	svc := NewMonitorService([]types.EndpointConfig{endpoint}, 100)

	result := svc.CheckEndpoint(context.Background(), endpoint)

	assert.Equal(t, types.EndpointHealthy, result.Status)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "secret", gotHeader)
}

func TestCheckAll_OneResultPerEndpoint(t *testing.T) {
	endpoints := []types.EndpointConfig{
		testEndpoint(func(e *types.EndpointConfig) { e.Name = "Auth API" }),
		testEndpoint(func(e *types.EndpointConfig) { e.Name = "Users API" }),
		testEndpoint(func(e *types.EndpointConfig) { e.Name = "Health Check"; e.RetryCount = 1 }),
	}
	svc, doer, _ := newTestMonitor(t, endpoints)
	doer.fn = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}

	results := svc.CheckAll(context.Background())

	require.Len(t, results, 3)
	names := map[string]bool{}
	for _, r := range results {
		names[r.EndpointName] = true
		assert.Equal(t, types.EndpointHealthy, r.Status)
	}
	assert.Len(t, names, 3)
	assert.Equal(t, 3, svc.HistoryDepth())
}

func TestCheckAll_ConcurrentAppendsStayConsistent(t *testing.T) {
	var endpoints []types.EndpointConfig
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		endpoints = append(endpoints, testEndpoint(func(e *types.EndpointConfig) {
			e.Name = name
			e.RetryCount = 1
		}))
	}
	svc, doer, _ := newTestMonitor(t, endpoints)
	doer.fn = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results := svc.CheckAll(context.Background())
			assert.Len(t, results, len(endpoints))
		}()
	}
	wg.Wait()

	assert.Equal(t, 5*len(endpoints), svc.HistoryDepth())
}

func TestHistory_FIFOEviction(t *testing.T) {
	endpoint := testEndpoint(func(e *types.EndpointConfig) { e.RetryCount = 1 })
	resetMonitorMetricsForTesting()

	svc := NewMonitorService([]types.EndpointConfig{endpoint}, 3)
	doer := &fakeDoer{}
	call := 0
	doer.fn = func(req *http.Request) (*http.Response, error) {
		call++
		if call%2 == 0 {
			return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: http.NoBody}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}
	svc.client = doer
	svc.sleep = func(time.Duration) {}

	for i := 0; i < 5; i++ {
		svc.CheckEndpoint(context.Background(), endpoint)
	}

	// Capacity 3: checks 1 and 2 were evicted, 3..5 remain (newest first).
	assert.Equal(t, 3, svc.HistoryDepth())
	results := svc.RecentResults(0)
	require.Len(t, results, 3)
	assert.Equal(t, types.EndpointHealthy, results[0].Status)   // check 5
	assert.Equal(t, types.EndpointUnhealthy, results[1].Status) // check 4
	assert.Equal(t, types.EndpointHealthy, results[2].Status)   // check 3
}

func TestRecentResults_Limit(t *testing.T) {
	endpoint := testEndpoint(func(e *types.EndpointConfig) { e.RetryCount = 1 })
	svc, doer, _ := newTestMonitor(t, []types.EndpointConfig{endpoint})
	doer.fn = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}

	for i := 0; i < 10; i++ {
		svc.CheckEndpoint(context.Background(), endpoint)
	}

	assert.Len(t, svc.RecentResults(4), 4)
	assert.Len(t, svc.RecentResults(0), 10)
	assert.Len(t, svc.RecentResults(50), 10)
}

func TestEndpointByName(t *testing.T) {
	endpoints := []types.EndpointConfig{
		testEndpoint(func(e *types.EndpointConfig) { e.Name = "Auth API" }),
		testEndpoint(func(e *types.EndpointConfig) { e.Name = "Users API" }),
	}
	svc, _, _ := newTestMonitor(t, endpoints)

	found, ok := svc.EndpointByName("Users API")
	assert.True(t, ok)
	assert.Equal(t, "Users API", found.Name)

	_, ok = svc.EndpointByName("Missing")
	assert.False(t, ok)
}

func TestDescribeAttemptError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "deadline exceeded",
			err:      timeoutErr(),
			expected: "Request timeout after 10s",
		},
		{
			name:     "connection refused",
			err:      connectionErr(),
			expected: "Connection error",
		},
		{
			name:     "unknown failure keeps raw message",
			err:      errors.New("tls: handshake failure"),
			expected: "tls: handshake failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, describeAttemptError(tt.err, 10.0))
		})
	}
}
