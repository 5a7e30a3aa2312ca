package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/vtryon/backend/internal/storage"
)

const maxInputImage = 10 << 20

var errInputImage = errors.New("input image unavailable")

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// ImageStore persists generated images and returns a client-loadable URL.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Gemini is the synchronous adapter: Submit blocks until the image is
// generated and stored.
type Gemini struct {
	gen    contentGenerator
	client *genai.Client
	store  ImageStore
	http   *http.Client
	logger *slog.Logger
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

func NewGemini(ctx context.Context, cfg GeminiConfig, store ImageStore, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g := newGemini(client.GenerativeModel(cfg.Model), store, logger)
	g.client = client
	return g, nil
}

func newGemini(gen contentGenerator, store ImageStore, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		gen:    gen,
		store:  store,
		http:   &http.Client{Timeout: 20 * time.Second},
		logger: logger,
	}
}

var _ Provider = (*Gemini)(nil)

func (g *Gemini) Name() string { return "gemini" }
func (g *Gemini) Mode() Mode   { return ModeSync }

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Gemini) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	images := make([]genai.Part, 0, 2)
	for _, u := range []string{req.UserImageURL, req.ItemImageURL} {
		img, err := g.fetchImage(ctx, u)
		if errors.Is(err, errInputImage) {
			return &SubmitResult{Status: StatusFailed, Error: err.Error()}, nil
		}
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return g.generate(ctx, req, images)
}

func (g *Gemini) generate(ctx context.Context, req SubmitRequest, images []genai.Part) (*SubmitResult, error) {
	parts := append([]genai.Part{genai.Text(req.Prompt)}, images...)
	resp, err := g.gen.GenerateContent(ctx, parts...)
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return &SubmitResult{Status: StatusFailed, Error: "request blocked by provider safety filters"}, nil
		}
		g.logger.Error("gemini generation failed", "task_id", req.TaskID, "error", err)
		return &SubmitResult{Status: StatusFailed, Error: "image generation failed"}, nil
	}

	img, description := firstImage(resp)
	if img == nil {
		return &SubmitResult{Status: StatusFailed, Error: msgNoImage, Description: description}, nil
	}

	key := storage.ObjectKey(req.TaskID, img.MIMEType)
	url, err := g.store.Put(ctx, key, img.MIMEType, img.Data)
	if err != nil {
		g.logger.Error("failed to store generated image", "task_id", req.TaskID, "error", err)
		return &SubmitResult{Status: StatusFailed, Error: "failed to store generated image"}, nil
	}
	return &SubmitResult{
		Status:          StatusCompleted,
		ResultImageURL:  url,
		ResultObjectKey: key,
		Description:     description,
	}, nil
}

func (g *Gemini) Poll(context.Context, string) (*PollResult, error) {
	return nil, ErrPollUnsupported
}

func (g *Gemini) fetchImage(ctx context.Context, url string) (genai.Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return genai.Blob{}, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return genai.Blob{}, fmt.Errorf("%w: fetch input image: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return genai.Blob{}, fmt.Errorf("%w: fetch input image: status %d", ErrTransport, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return genai.Blob{}, fmt.Errorf("%w: status %d", errInputImage, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInputImage))
	if err != nil {
		return genai.Blob{}, fmt.Errorf("%w: read input image: %w", ErrTransport, err)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}
	return genai.Blob{MIMEType: ct, Data: data}, nil
}

func firstImage(resp *genai.GenerateContentResponse) (*genai.Blob, string) {
	if resp == nil {
		return nil, ""
	}
	var img *genai.Blob
	var text []string
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			switch p := part.(type) {
			case genai.Blob:
				if img == nil && strings.HasPrefix(p.MIMEType, "image/") && len(p.Data) > 0 {
					b := p
					img = &b
				}
			case genai.Text:
				text = append(text, string(p))
			}
		}
		if img != nil {
			break
		}
	}
	return img, strings.TrimSpace(strings.Join(text, "\n"))
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	return false
}
