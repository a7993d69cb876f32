package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/QACrew/qa-assistant-backend/types"
	"gopkg.in/yaml.v3"
)

// endpointsFile is the on-disk shape of the monitored endpoint list.
type endpointsFile struct {
	Endpoints []types.EndpointConfig `yaml:"endpoints"`
}

// Defaults applied to endpoint entries that omit optional fields. They match
// the documented monitor behavior: five second latency budget, ten second
// attempt timeout, three attempts with a one second pause between them.
const (
	defaultEndpointMethod  = "GET"
	defaultExpectedStatus  = 200
	defaultMaxResponseTime = 5.0
	defaultEndpointTimeout = 10.0
	defaultRetryCount      = 3
	defaultRetryDelay      = 1.0
)

// LoadEndpoints reads and validates the YAML endpoint list used by the
// monitor. Missing optional fields are filled with defaults before
// validation, so an entry only needs a name and a URL.
func LoadEndpoints(path string) ([]types.EndpointConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoints file %s: %w", path, err)
	}

	var file endpointsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse endpoints file %s: %w", path, err)
	}

	if len(file.Endpoints) == 0 {
		return nil, fmt.Errorf("endpoints file %s defines no endpoints", path)
	}

	for i := range file.Endpoints {
		applyEndpointDefaults(&file.Endpoints[i])
		if err := validateEndpoint(file.Endpoints[i]); err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
	}

	return file.Endpoints, nil
}

func applyEndpointDefaults(e *types.EndpointConfig) {
	if e.Method == "" {
		e.Method = defaultEndpointMethod
	}
	e.Method = strings.ToUpper(e.Method)
	if e.ExpectedStatus == 0 {
		e.ExpectedStatus = defaultExpectedStatus
	}
	if e.MaxResponseTime == 0 {
		e.MaxResponseTime = defaultMaxResponseTime
	}
	if e.Timeout == 0 {
		e.Timeout = defaultEndpointTimeout
	}
	if e.RetryCount == 0 {
		e.RetryCount = defaultRetryCount
	}
	if e.RetryDelay == 0 {
		e.RetryDelay = defaultRetryDelay
	}
}

func validateEndpoint(e types.EndpointConfig) error {
	if e.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if e.URL == "" {
		return fmt.Errorf("endpoint URL is required")
	}
	if e.Method != "GET" && e.Method != "POST" {
		return fmt.Errorf("unsupported method %q for endpoint %s", e.Method, e.Name)
	}
	if e.RetryCount < 1 {
		return fmt.Errorf("retry count must be at least 1 for endpoint %s", e.Name)
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive for endpoint %s", e.Name)
	}
	return nil
}
