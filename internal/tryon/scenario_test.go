package tryon

import (
	"context"
	"testing"

	"github.com/vtryon/backend/internal/models"
	"github.com/vtryon/backend/internal/provider"
)

// An eyewear try-on through the async provider by a user with one unit left.
func TestScenario_AsyncEyewear(t *testing.T) {
	h := newAsyncHarness(t, &models.User{})
	ctx := context.Background()

	out, err := h.submitter.Submit(ctx, validInput(h.user.ID, "eyewear"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Status != models.TaskStatusPending {
		t.Fatalf("submit status: got %s", out.Status)
	}

	res, err := h.poller.Reconcile(ctx, h.user.ID, out.TaskID)
	if err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if res.Status != models.TaskStatusProcessing || res.IsNewCompletion {
		t.Fatalf("poll 1: got %+v", res)
	}

	// A reload in between finds the running task.
	resumed, err := h.recoverer.FindResumable(ctx, h.user.ID)
	if err != nil || resumed == nil || resumed.ID != out.TaskID {
		t.Fatalf("recovery: got %v, %v", resumed, err)
	}

	h.async.setPoll(&provider.PollResult{Status: provider.StatusCompleted, ResultImageURL: "https://provider.example.com/U.png"}, nil)
	res, err = h.poller.Reconcile(ctx, h.user.ID, out.TaskID)
	if err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if res.Status != models.TaskStatusCompleted || res.ResultImageURL != "https://provider.example.com/U.png" || !res.IsNewCompletion {
		t.Fatalf("poll 2: got %+v", res)
	}
	if got := h.remaining(t); got != 0 {
		t.Fatalf("quota after completion: got %d, want 0", got)
	}

	res, err = h.poller.Reconcile(ctx, h.user.ID, out.TaskID)
	if err != nil {
		t.Fatalf("poll 3: %v", err)
	}
	if res.Status != models.TaskStatusCompleted || res.ResultImageURL != "https://provider.example.com/U.png" || res.IsNewCompletion {
		t.Fatalf("poll 3: got %+v", res)
	}
	if got := h.remaining(t); got != 0 {
		t.Fatalf("quota after repeat poll: got %d, want 0", got)
	}

	if resumed, _ := h.recoverer.FindResumable(ctx, h.user.ID); resumed != nil {
		t.Fatalf("completed task must not be resumable")
	}
}

// A subscriber on the sync provider is billed before the response returns.
func TestScenario_SyncBilledBeforeResponse(t *testing.T) {
	h := newHarness(t, "sync", &models.User{CreditsPurchased: 1, FreeTrialsUsed: 1})
	out, err := h.submitter.Submit(context.Background(), validInput(h.user.ID, "glasses"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Status != models.TaskStatusCompleted {
		t.Fatalf("status: got %s", out.Status)
	}
	if got := h.remaining(t); got != 0 {
		t.Fatalf("remaining: got %d, want 0", got)
	}
	// Polling a sync-completed task never bills again.
	res, err := h.poller.Reconcile(context.Background(), h.user.ID, out.TaskID)
	if err != nil || res.IsNewCompletion {
		t.Fatalf("poll: got %+v, %v", res, err)
	}
	if h.quota.usageCount() != 1 {
		t.Fatalf("usage entries: got %d, want 1", h.quota.usageCount())
	}
}
