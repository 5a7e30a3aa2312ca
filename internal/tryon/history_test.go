package tryon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/models"
)

type memObjects struct {
	mu      sync.Mutex
	deleted []string
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

func TestListHistory_NewestFirstAndLimited(t *testing.T) {
	h := newAsyncHarness(t, &models.User{})
	now := time.Now()
	for i := 0; i < 5; i++ {
		h.tasks.put(&models.Task{ID: uuid.New(), UserID: h.user.ID, Status: models.TaskStatusCompleted, CreatedAt: now.Add(-time.Duration(i) * time.Hour)})
	}
	h.tasks.put(&models.Task{ID: uuid.New(), UserID: uuid.New(), Status: models.TaskStatusCompleted, CreatedAt: now})

	hist := NewHistory(h.tasks, h.poller, nil, nil)
	list, err := hist.ListHistory(context.Background(), h.user.ID, 3)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Errorf("history not newest first at %d", i)
		}
	}
}

func TestDelete_RemovesTaskAndObject(t *testing.T) {
	h := newAsyncHarness(t, &models.User{})
	task := &models.Task{ID: uuid.New(), UserID: h.user.ID, Status: models.TaskStatusCompleted, CreatedAt: time.Now(),
		Metadata: models.TaskMetadata{ResultObjectKey: "tryon/results/x.png"}}
	h.tasks.put(task)
	objs := &memObjects{}
	hist := NewHistory(h.tasks, h.poller, objs, nil)

	if err := hist.Delete(context.Background(), uuid.New(), task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign delete: expected ErrForbidden, got %v", err)
	}
	if err := hist.Delete(context.Background(), h.user.ID, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if h.tasks.count() != 0 {
		t.Error("task still stored")
	}
	if len(objs.deleted) != 1 || objs.deleted[0] != "tryon/results/x.png" {
		t.Errorf("object not deleted: %v", objs.deleted)
	}
}
