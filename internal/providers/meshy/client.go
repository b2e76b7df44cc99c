package meshy

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
var ErrMissingAPIKey = errors.New("meshy: api key is required")

// Mode selects the generation stage for a submission.
type Mode string

const (
	ModePreview Mode = "preview"
	ModeRefine  Mode = "refine"
)

// Options configures the text-to-3D client.
type Options struct {
	APIKey         string
	BaseURL        string
	ArtStyle       string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Meshy text-to-3D API.
type Client struct {
	apiKey     string
	baseURL    string
	artStyle   string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest captures the inputs for one submission. Preview submissions
// carry a prompt; refine submissions carry the preview task id instead.
type SubmitRequest struct {
	Mode           Mode
	Prompt         string
	NegativePrompt string
	PreviewTaskID  string
}

// APIError is a non-2xx response from the provider, with as much of the
// provider's error body as could be decoded.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meshy: status %d: %s", e.StatusCode, e.Message)
}

type submitPayload struct {
	Mode           string `json:"mode"`
	Prompt         string `json:"prompt,omitempty"`
	ArtStyle       string `json:"art_style,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	PreviewTaskID  string `json:"preview_task_id,omitempty"`
}

type submitResponse struct {
	Result string `json:"result"`
}

type taskResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	ModelURLs struct {
		GLB  string `json:"glb"`
		FBX  string `json:"fbx"`
		USDZ string `json:"usdz"`
		OBJ  string `json:"obj"`
	} `json:"model_urls"`
	// Older task payloads carry a single flat URL instead of model_urls.
	ModelURL     string `json:"model_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	TaskError    struct {
		Message string `json:"message"`
	} `json:"task_error"`
	Message string `json:"message"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
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
		baseURL = "https://api.meshy.ai"
	}
	artStyle := strings.TrimSpace(opts.ArtStyle)
	if artStyle == "" {
		artStyle = "realistic"
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
		artStyle:   artStyle,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts one generation task and returns the provider's opaque task
// id. Exactly one outbound call is made; there are no retries at this layer.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	payload := submitPayload{Mode: string(req.Mode)}
	switch req.Mode {
	case ModeRefine:
		if req.PreviewTaskID == "" {
			return "", errors.New("meshy: preview task id is required for refine")
		}
		payload.PreviewTaskID = req.PreviewTaskID
	default:
		payload.Mode = string(ModePreview)
		if strings.TrimSpace(req.Prompt) == "" {
			return "", errors.New("meshy: prompt is required")
		}
		payload.Prompt = req.Prompt
		payload.ArtStyle = c.artStyle
		payload.NegativePrompt = strings.TrimSpace(req.NegativePrompt)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("meshy: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/text-to-3d", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("meshy: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("meshy: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("meshy: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", decodeAPIError(resp.StatusCode, raw)
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("meshy: decode response: %w", err)
	}
	if decoded.Result == "" {
		return "", errors.New("meshy: empty task id in response")
	}
	c.logger.Debug().
		Str("mode", string(req.Mode)).
		Str("task_id", decoded.Result).
		Msg("meshy: task submitted")
	return decoded.Result, nil
}

// Status fetches one snapshot of a task. Repeated polling is the caller's
// responsibility; each call performs exactly one upstream query.
func (c *Client) Status(ctx context.Context, taskID string) (*domain.Snapshot, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, errors.New("meshy: task id is required")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/text-to-3d/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("meshy: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("meshy: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("meshy: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, raw)
	}

	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("meshy: decode response: %w", err)
	}
	return snapshotFromTask(taskID, decoded), nil
}

func snapshotFromTask(taskID string, task taskResponse) *domain.Snapshot {
	snap := &domain.Snapshot{
		TaskID:   taskID,
		State:    domain.ClassifyStatus(task.Status),
		Progress: task.Progress,
		Payload: domain.ResultPayload{
			ModelGLB:     strings.TrimSpace(task.ModelURLs.GLB),
			ThumbnailURL: strings.TrimSpace(task.ThumbnailURL),
		},
	}
	if task.ID != "" {
		snap.TaskID = task.ID
	}
	// The generic source-file fallback: obj from model_urls, else the flat
	// model_url field older payloads use.
	if obj := strings.TrimSpace(task.ModelURLs.OBJ); obj != "" {
		snap.Payload.ModelSource = obj
	} else {
		snap.Payload.ModelSource = strings.TrimSpace(task.ModelURL)
	}
	if snap.State == domain.StateFailed || snap.State == domain.StateExpired {
		snap.ErrorMessage = failureMessage(task)
	}
	return snap
}

func failureMessage(task taskResponse) string {
	if msg := strings.TrimSpace(task.TaskError.Message); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(task.Message); msg != "" {
		return msg
	}
	return domain.DefaultFailureMessage
}

func decodeAPIError(status int, raw []byte) error {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Message != "" {
			return &APIError{StatusCode: status, Message: detail.Message}
		}
		if detail.Error != "" {
			return &APIError{StatusCode: status, Message: detail.Error}
		}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
}
