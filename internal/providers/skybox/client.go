package skybox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sceneforge/internal/domain"
	"sceneforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("skybox: api key is required")

// Options configures the skybox provider client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Blockade skybox API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest captures the inputs for one skybox generation.
type SubmitRequest struct {
	Prompt  string
	StyleID int
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("skybox: status %d: %s", e.StatusCode, e.Message)
}

type submitPayload struct {
	Prompt        string `json:"prompt"`
	SkyboxStyleID int    `json:"skybox_style_id,omitempty"`
}

type submitResponse struct {
	ID json.Number `json:"id"`
}

// requestBody is the live status shape. Depending on the endpoint the
// provider either returns it bare or nested under a "request" key, so status
// decoding probes both.
type requestBody struct {
	ID            json.Number `json:"id"`
	Status        string      `json:"status"`
	FileURL       string      `json:"file_url"`
	ThumbURL      string      `json:"thumb_url"`
	QueuePosition int         `json:"queue_position"`
	ErrorMessage  string      `json:"error_message"`
}

type statusEnvelope struct {
	Request json.RawMessage `json:"request"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://backend.blockadelabs.com"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts one skybox generation and returns the provider's task id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("skybox: prompt is required")
	}
	body, err := json.Marshal(submitPayload{Prompt: req.Prompt, SkyboxStyleID: req.StyleID})
	if err != nil {
		return "", fmt.Errorf("skybox: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/skybox", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("skybox: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("skybox: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("skybox: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", decodeAPIError(resp.StatusCode, raw)
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("skybox: decode response: %w", err)
	}
	id := decoded.ID.String()
	if id == "" {
		return "", errors.New("skybox: empty task id in response")
	}
	c.logger.Debug().Str("task_id", id).Msg("skybox: task submitted")
	return id, nil
}

// Status fetches one snapshot of a task, tolerating both the bare and the
// request-nested payload shapes.
func (c *Client) Status(ctx context.Context, taskID string) (*domain.Snapshot, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, errors.New("skybox: task id is required")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/imagine/requests/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("skybox: build request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("skybox: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("skybox: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, raw)
	}

	body, err := decodeStatusBody(raw)
	if err != nil {
		return nil, err
	}
	return snapshotFromBody(taskID, body), nil
}

// decodeStatusBody probes the nested "request" shape first and falls back to
// the bare shape when the key is absent.
func decodeStatusBody(raw []byte) (requestBody, error) {
	var envelope statusEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return requestBody{}, fmt.Errorf("skybox: decode response: %w", err)
	}
	source := raw
	if len(envelope.Request) > 0 && string(envelope.Request) != "null" {
		source = envelope.Request
	}
	var body requestBody
	if err := json.Unmarshal(source, &body); err != nil {
		return requestBody{}, fmt.Errorf("skybox: decode status body: %w", err)
	}
	return body, nil
}

func snapshotFromBody(taskID string, body requestBody) *domain.Snapshot {
	snap := &domain.Snapshot{
		TaskID:        taskID,
		State:         domain.ClassifyStatus(body.Status),
		QueuePosition: body.QueuePosition,
		Payload: domain.ResultPayload{
			FileURL:      strings.TrimSpace(body.FileURL),
			ThumbnailURL: strings.TrimSpace(body.ThumbURL),
		},
	}
	if id := body.ID.String(); id != "" && id != "0" {
		snap.TaskID = id
	}
	switch snap.State {
	case domain.StateInProgress:
		// The provider reports a queue position rather than a percentage;
		// progress stays at its zero default.
	case domain.StateFailed, domain.StateExpired:
		snap.ErrorMessage = strings.TrimSpace(body.ErrorMessage)
		if snap.ErrorMessage == "" {
			snap.ErrorMessage = domain.DefaultFailureMessage
		}
	}
	return snap
}

func decodeAPIError(status int, raw []byte) error {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Error != "" {
			return &APIError{StatusCode: status, Message: detail.Error}
		}
		if detail.Message != "" {
			return &APIError{StatusCode: status, Message: detail.Message}
		}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
}
