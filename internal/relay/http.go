package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/logging"
	"mediarelay/internal/services"
)

const (
	defaultRequestTimeout = 15 * time.Minute
	maxResponseBytes      = 1 << 20
	sessionHeader         = "X-Relay-Session"
	component             = "relay"
)

// HTTPProcessor relays items through the relay service's HTTP API.
//
//	POST {base}/session               handshake, returns {"session": "..."}
//	POST {base}/items/{source_id}/relay
//	GET  {base}/healthz
type HTTPProcessor struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	session    *Session
	logger     *slog.Logger
}

// Option customizes an HTTPProcessor.
type Option func(*HTTPProcessor)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *HTTPProcessor) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithLogger sets the logger used for session and response diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *HTTPProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type relayResponse struct {
	Status        string `json:"status"`
	DestinationID *int64 `json:"destination_id"`
	Message       string `json:"message"`
}

type sessionResponse struct {
	Session string `json:"session"`
}

// NewHTTPProcessor builds a processor for baseURL. The session is not opened
// until the first Process call.
func NewHTTPProcessor(baseURL, apiToken string, timeout time.Duration, opts ...Option) (*HTTPProcessor, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "init", "relay base_url is required", nil)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	p := &HTTPProcessor{
		baseURL:    baseURL,
		apiToken:   strings.TrimSpace(apiToken),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, component)
	p.session = NewSession(p.openSession)
	return p, nil
}

// NewFromConfig builds a processor from the [relay] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*HTTPProcessor, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "init", "config is required", nil)
	}
	return NewHTTPProcessor(cfg.Relay.BaseURL, cfg.Relay.APIToken, cfg.Relay.RequestTimeoutDuration(), WithLogger(logger))
}

// Session exposes the lazily opened session handle.
func (p *HTTPProcessor) Session() *Session {
	return p.session
}

// BaseURL returns the normalized service address.
func (p *HTTPProcessor) BaseURL() string {
	return p.baseURL
}

// Process asks the relay service to deliver sourceID and maps its answer onto
// an Outcome. Returned errors are transient from the queue's point of view.
func (p *HTTPProcessor) Process(ctx context.Context, sourceID int64) (Result, error) {
	token, err := p.session.Token(ctx)
	if err != nil {
		return Result{}, err
	}

	target := p.baseURL + "/items/" + strconv.FormatInt(sourceID, 10) + "/relay"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, component, "build request", target, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(sessionHeader, token)
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, classifyTransportError("relay item", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "relay item", "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return p.decodeResult(sourceID, body)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Result{Outcome: OutcomeDeletedFromSource, Message: responseMessage(body, "item not found at source")}, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return Result{Outcome: OutcomeOtherError, Message: responseMessage(body, "item not supported by sink")}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		p.session.Invalidate()
		p.logger.Info("relay session rejected; will reopen",
			logging.Int64(logging.FieldSourceID, sourceID),
			logging.String(logging.FieldEventType, "session_invalidated"),
		)
		return Result{}, services.Wrap(services.ErrTransient, component, "relay item", "session expired", nil)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return Result{}, services.Wrap(services.ErrTimeout, component, "relay item", statusDetail(resp.StatusCode, body), nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, services.Wrap(services.ErrTransient, component, "relay item", statusDetail(resp.StatusCode, body), nil)
	default:
		return Result{}, services.Wrap(services.ErrExternalTool, component, "relay item", statusDetail(resp.StatusCode, body), nil)
	}
}

// Ping checks that the relay service answers its health endpoint.
func (p *HTTPProcessor) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/healthz", nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, component, "ping", "build request", err)
	}
	p.authorize(req)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return classifyTransportError("ping", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrExternalTool, component, "ping", fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	return nil
}

func (p *HTTPProcessor) openSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/session", nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "open session", "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError("open session", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, component, "open session", "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", services.Wrap(services.ErrConfiguration, component, "open session", "relay api_token rejected", nil)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return "", services.Wrap(services.ErrTransient, component, "open session", statusDetail(resp.StatusCode, body), nil)
	}

	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrExternalTool, component, "open session", "decode response", err)
	}
	token := strings.TrimSpace(parsed.Session)
	if token == "" {
		return "", services.Wrap(services.ErrExternalTool, component, "open session", "empty session in response", nil)
	}
	p.logger.Info("relay session opened",
		logging.String(logging.FieldEventType, "session_opened"),
		logging.String("base_url", p.baseURL),
	)
	return token, nil
}

func (p *HTTPProcessor) decodeResult(sourceID int64, body []byte) (Result, error) {
	var parsed relayResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, component, "relay item", "decode response", err)
	}
	outcome, ok := ParseOutcome(parsed.Status)
	if !ok {
		return Result{}, services.Wrap(services.ErrExternalTool, component, "relay item",
			fmt.Sprintf("unknown status %q", parsed.Status), nil)
	}
	if outcome == OutcomeProcessed && parsed.DestinationID == nil {
		return Result{}, services.Wrap(services.ErrExternalTool, component, "relay item",
			fmt.Sprintf("source %d processed without destination_id", sourceID), nil)
	}
	result := Result{Outcome: outcome, Message: strings.TrimSpace(parsed.Message)}
	if outcome == OutcomeProcessed {
		result.DestinationID = parsed.DestinationID
	}
	return result, nil
}

func (p *HTTPProcessor) authorize(req *http.Request) {
	if p.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiToken)
	}
}

func classifyTransportError(operation string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return services.Wrap(services.ErrTimeout, component, operation, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, component, operation, "request failed", err)
}

func responseMessage(body []byte, fallback string) string {
	var parsed relayResponse
	if err := json.Unmarshal(body, &parsed); err == nil && strings.TrimSpace(parsed.Message) != "" {
		return strings.TrimSpace(parsed.Message)
	}
	return fallback
}

func statusDetail(code int, body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if snippet == "" {
		return fmt.Sprintf("http %d", code)
	}
	return fmt.Sprintf("http %d: %s", code, snippet)
}
