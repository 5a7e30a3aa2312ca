// Package provider adapts external image-composition services to one
// submit/poll contract. Each adapter declares at construction whether it
// answers synchronously or hands back a task handle to poll.
package provider

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Provider-side status vocabulary after normalization.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	// ErrTransport wraps network and timeout failures. Callers may retry.
	ErrTransport       = errors.New("provider transport error")
	ErrPollUnsupported = errors.New("provider does not support polling")
)

type SubmitRequest struct {
	TaskID       uuid.UUID
	UserImageURL string
	ItemImageURL string
	Category     string
	Prompt       string
}

type SubmitResult struct {
	Status          string
	ProviderTaskID  string
	ResultImageURL  string
	ResultObjectKey string
	Description     string
	Error           string
}

type PollResult struct {
	Status         string
	ResultImageURL string
	Description    string
	Error          string
	Progress       int
}

type Provider interface {
	Name() string
	Mode() Mode
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Poll(ctx context.Context, providerTaskID string) (*PollResult, error)
}
