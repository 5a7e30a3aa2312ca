package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	grsaiSubmitPath = "/v1/draw/nano-banana"
	grsaiResultPath = "/v1/draw/result"
	maxResponseBody = 1 << 20
)

// GrsAI is the asynchronous adapter: Submit returns a task handle and the
// result is fetched later through Poll.
type GrsAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type GrsAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewGrsAI(cfg GrsAIConfig, logger *slog.Logger) *GrsAI {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "nano-banana-fast"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &GrsAI{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

var _ Provider = (*GrsAI)(nil)

func (g *GrsAI) Name() string { return "grsai" }
func (g *GrsAI) Mode() Mode   { return ModeAsync }

type grsaiSubmitBody struct {
	Model        string   `json:"model"`
	Prompt       string   `json:"prompt"`
	AspectRatio  string   `json:"aspectRatio"`
	ImageSize    string   `json:"imageSize"`
	URLs         []string `json:"urls"`
	WebHook      string   `json:"webHook"`
	ShutProgress bool     `json:"shutProgress"`
}

type grsaiSubmitResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (g *GrsAI) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	body := grsaiSubmitBody{
		Model:       g.model,
		Prompt:      req.Prompt,
		AspectRatio: "auto",
		ImageSize:   "1K",
		URLs:        []string{req.UserImageURL, req.ItemImageURL},
		// "-1" asks for the task id immediately instead of a callback.
		WebHook:      "-1",
		ShutProgress: false,
	}
	status, raw, err := g.post(ctx, grsaiSubmitPath, body)
	if err != nil {
		return nil, err
	}
	if status >= 500 {
		return nil, fmt.Errorf("%w: submit returned %d", ErrTransport, status)
	}
	if status < 200 || status > 299 {
		g.logger.Error("grsai submit rejected", "status", status, "body", truncate(raw))
		return &SubmitResult{Status: StatusFailed, Error: fmt.Sprintf("submission rejected: %d", status)}, nil
	}

	var resp grsaiSubmitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &SubmitResult{Status: StatusFailed, Error: msgMalformed}, nil
	}
	if resp.Code != 0 || resp.Data == nil || resp.Data.ID == "" {
		g.logger.Error("grsai submit returned no task id", "code", resp.Code, "msg", resp.Msg)
		return &SubmitResult{Status: StatusFailed, Error: firstNonEmpty(resp.Msg, "no task id received")}, nil
	}
	return &SubmitResult{Status: StatusPending, ProviderTaskID: resp.Data.ID}, nil
}

func (g *GrsAI) Poll(ctx context.Context, providerTaskID string) (*PollResult, error) {
	status, raw, err := g.post(ctx, grsaiResultPath, map[string]string{"id": providerTaskID})
	if err != nil {
		return nil, err
	}
	if status >= 500 {
		return nil, fmt.Errorf("%w: poll returned %d", ErrTransport, status)
	}
	if status < 200 || status > 299 {
		g.logger.Error("grsai poll rejected", "provider_task_id", providerTaskID, "status", status, "body", truncate(raw))
		return &PollResult{Status: StatusFailed, Error: fmt.Sprintf("Polling failed: %d", status)}, nil
	}
	return Normalize(raw)
}

// post sends a JSON body. Network failures come back wrapped in ErrTransport.
func (g *GrsAI) post(ctx context.Context, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	return resp.StatusCode, raw, nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
