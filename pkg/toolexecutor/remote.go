package toolexecutor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/harun/nanobot/internal/tracing"
)

// ExecutePath is the provider endpoint that runs a capability
const ExecutePath = "/api/nanobot/client/execute"

// ExecuteRequest is the body POSTed to a provider
type ExecuteRequest struct {
	ToolName string                 `json:"toolName"`
	Params   map[string]interface{} `json:"params"`
}

// ExecuteResponse is the provider's reply; Code 200 means success
type ExecuteResponse struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// RemoteConfig tunes the provider RPC client
type RemoteConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultRemoteConfig returns 10s connect and 30s request timeouts
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// RemoteClient executes capabilities on remote providers
type RemoteClient struct {
	client *http.Client
}

// NewRemoteClient creates a client with the given timeouts
func NewRemoteClient(cfg RemoteConfig) *RemoteClient {
	defaults := DefaultRemoteConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &RemoteClient{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
	}
}

// Execute runs toolName on the provider at address. On success it returns the
// data field: a JSON string is returned unquoted, any other value as JSON text.
func (c *RemoteClient) Execute(ctx context.Context, address, toolName string, params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	body, err := json.Marshal(ExecuteRequest{ToolName: toolName, Params: params})
	if err != nil {
		return "", &RemoteError{Kind: KindProviderTransportFailure, Message: err.Error()}
	}

	url := strings.TrimRight(address, "/") + ExecutePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &RemoteError{Kind: KindProviderTransportFailure, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	tracing.InjectHTTP(ctx, req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &RemoteError{Kind: KindProviderTransportFailure, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &RemoteError{Kind: KindProviderTransportFailure, StatusCode: resp.StatusCode}
	}

	var out ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &RemoteError{
			Kind:    KindProviderTransportFailure,
			Message: fmt.Sprintf("invalid response: %v", err),
		}
	}

	if out.Code != http.StatusOK {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("provider returned code %d", out.Code)
		}
		return "", &RemoteError{Kind: KindProviderApplicationFailure, Message: msg}
	}

	return decodeData(out.Data), nil
}

func decodeData(data json.RawMessage) string {
	if len(data) == 0 || string(data) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}

// remoteKind extracts the failure kind of err
func remoteKind(err error) ErrorKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindProviderTransportFailure
}
