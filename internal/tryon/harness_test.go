package tryon

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/config"
	"github.com/vtryon/backend/internal/ledger"
	"github.com/vtryon/backend/internal/models"
)

type harness struct {
	tasks     *memTasks
	quota     *memQuota
	ledger    *ledger.Ledger
	async     *fakeProvider
	sync      *fakeProvider
	listener  *countingListener
	submitter *Submitter
	poller    *Poller
	recoverer *Recoverer
	user      *models.User
}

func newHarness(t *testing.T, mode string, user *models.User) *harness {
	t.Helper()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	h := &harness{
		tasks:    newMemTasks(),
		quota:    newMemQuota(user),
		async:    newAsyncProvider(),
		sync:     newSyncProvider(),
		listener: &countingListener{},
		user:     user,
	}
	h.ledger = ledger.New(h.quota, ledger.DefaultLimits(), nil)
	providers := Providers{Mode: mode, Async: h.async, Sync: h.sync}
	h.submitter = NewSubmitter(h.tasks, h.ledger, providers, h.listener, SubmitterConfig{Retention: 24 * time.Hour}, nil)
	h.poller = NewPoller(h.tasks, h.ledger, providers, nil, h.listener, PollerConfig{RecoveryWindow: 30 * time.Minute}, nil)
	h.recoverer = NewRecoverer(h.tasks, 30*time.Minute)
	return h
}

func newAsyncHarness(t *testing.T, user *models.User) *harness {
	return newHarness(t, config.ProviderModeAsync, user)
}

func (h *harness) remaining(t *testing.T) int {
	t.Helper()
	u, err := h.quota.GetUser(context.Background(), h.user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return h.ledger.Remaining(u, time.Now()).Total
}

func validInput(userID uuid.UUID, category string) SubmitInput {
	return SubmitInput{
		UserID:       userID,
		UserImageURL: "https://uploads.example.com/face.jpg",
		ItemImageURL: "https://uploads.example.com/item.jpg",
		Category:     category,
	}
}
