package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config describes one remote agent endpoint.
type Config struct {
	Kind    Kind
	BaseURL string
	Timeout time.Duration
}

// HTTPAgent fronts a remote agent service speaking the execute protocol.
type HTTPAgent struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTP creates an executor for a remote agent.
func NewHTTP(cfg Config, logger *zap.Logger) *HTTPAgent {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &HTTPAgent{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (a *HTTPAgent) Name() string { return string(a.config.Kind) }

// Execute posts the input to the agent and returns its output map.
func (a *HTTPAgent) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, &Error{Agent: a.config.Kind, Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/api/execute", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Agent: a.config.Kind, Message: "create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Agent: a.config.Kind, Message: "send request", Cause: classifyTransport(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			cause = errors.Join(ErrConnection, cause)
		}
		return nil, &Error{Agent: a.config.Kind, Message: "agent returned error", Cause: cause}
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Agent: a.config.Kind, Message: "decode response", Cause: err}
	}
	return out, nil
}

// classifyTransport tags timeouts and connection failures with their
// sentinel so retry logic can tell them apart from permanent errors.
// Caller cancellation passes through untagged.
func classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return errors.Join(ErrTimeout, err)
	default:
		return errors.Join(ErrConnection, err)
	}
}

// HealthCheck probes the agent's health endpoint with a short deadline.
func (a *HTTPAgent) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.config.BaseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
