package tryon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vtryon/backend/internal/ledger"
	"github.com/vtryon/backend/internal/models"
	"github.com/vtryon/backend/internal/provider"
	"github.com/vtryon/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// noopTx satisfies pgx.Tx; the in-memory stores ignore it.
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// memTx buffers memTasks writes until Commit and holds row locks until the
// transaction ends, like the UPDATE/SELECT FOR UPDATE in repository.TaskRepo.
// Savepoints (Begin) are no-ops.
// ---------------------------------------------------------------------------

type memTx struct {
	noopTx
	m      *memTasks
	staged []func()
	held   []*sync.Mutex
	done   bool
}

func (tx *memTx) Commit(context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.m.mu.Lock()
	for _, apply := range tx.staged {
		apply()
	}
	tx.m.mu.Unlock()
	tx.release()
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.release()
	return nil
}

func (tx *memTx) release() {
	tx.done = true
	for _, l := range tx.held {
		l.Unlock()
	}
	tx.held = nil
	tx.staged = nil
}

// ---------------------------------------------------------------------------
// memTasks: in-memory TaskStore with the same conditional-write semantics as
// repository.TaskRepo (status IN ('pending', 'processing') guards).
// ---------------------------------------------------------------------------

type memTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
	rows  map[uuid.UUID]*sync.Mutex
	now   func() time.Time
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: make(map[uuid.UUID]*models.Task), rows: make(map[uuid.UUID]*sync.Mutex), now: time.Now}
}

func (m *memTasks) Begin(context.Context) (pgx.Tx, error) { return &memTx{m: m}, nil }

func (m *memTasks) rowLock(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		l = &sync.Mutex{}
		m.rows[id] = l
	}
	return l
}

func (m *memTasks) Create(_ context.Context, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memTasks) CreateTx(ctx context.Context, _ pgx.Tx, t *models.Task) error {
	return m.Create(ctx, t)
}

func (m *memTasks) put(t *models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
}

func (m *memTasks) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) MarkProcessing(_ context.Context, id uuid.UUID, progress int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.IsTerminal() {
		return false, nil
	}
	t.Status = models.TaskStatusProcessing
	if progress > t.Progress {
		t.Progress = progress
	}
	return true, nil
}

func (m *memTasks) LockActiveTx(_ context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	mtx := tx.(*memTx)
	l := m.rowLock(id)
	l.Lock()
	mtx.held = append(mtx.held, l)

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return ok && !t.IsTerminal(), nil
}

// CompleteIfActiveTx mirrors the UPDATE guard in repository.TaskRepo.CompleteIfActiveTx.
func (m *memTasks) CompleteIfActiveTx(_ context.Context, tx pgx.Tx, id uuid.UUID, resultURL string, meta models.TaskMetadata) (bool, error) {
	mtx := tx.(*memTx)
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.IsTerminal() {
		return false, nil
	}
	mtx.staged = append(mtx.staged, func() {
		t.Status = models.TaskStatusCompleted
		t.Progress = 100
		t.ResultImageURL = &resultURL
		t.ErrorMessage = nil
		t.Metadata = meta
	})
	return true, nil
}

func (m *memTasks) FailIfActive(_ context.Context, id uuid.UUID, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.IsTerminal() {
		return false, nil
	}
	t.Status = models.TaskStatusFailed
	t.ErrorMessage = &message
	return true, nil
}

func (m *memTasks) FindLatestActive(_ context.Context, userID uuid.UUID, since time.Time) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Task
	for _, t := range m.tasks {
		if t.UserID != userID || t.IsTerminal() || !t.CreatedAt.After(since) {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memTasks) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Task{}
	for _, t := range m.tasks {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTasks) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memTasks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// ---------------------------------------------------------------------------
// memQuota: ledger.Store over in-memory users, so tests drive the real Ledger.
// ---------------------------------------------------------------------------

type memQuota struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
	usage map[uuid.UUID]ledger.Bucket
}

func newMemQuota(users ...*models.User) *memQuota {
	q := &memQuota{users: map[uuid.UUID]*models.User{}, usage: map[uuid.UUID]ledger.Bucket{}}
	for _, u := range users {
		cp := *u
		q.users[u.ID] = &cp
	}
	return q
}

func (q *memQuota) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (q *memQuota) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	u, ok := q.users[id]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (q *memQuota) GetUserTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.User, error) {
	return q.GetUser(ctx, id)
}

func (q *memQuota) UsageExistsTx(_ context.Context, _ pgx.Tx, taskID uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.usage[taskID]
	return ok, nil
}

// ConsumeTx mirrors the WHERE clauses in ledger.Repository.ConsumeTx.
func (q *memQuota) ConsumeTx(_ context.Context, _ pgx.Tx, id uuid.UUID, bucket ledger.Bucket, limits ledger.Limits, now time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	u := q.users[id]
	switch bucket {
	case ledger.BucketCredits:
		if u.CreditsPurchased-u.CreditsUsed <= 0 {
			return false, nil
		}
		u.CreditsUsed++
	case ledger.BucketSubscription:
		if !u.SubscriptionActive(now) || limits.Allowance(u.SubscriptionType)-u.PremiumUsageCount <= 0 {
			return false, nil
		}
		u.PremiumUsageCount++
	case ledger.BucketFreeTrial:
		if u.SubscriptionActive(now) || limits.FreeTrial-u.FreeTrialsUsed <= 0 {
			return false, nil
		}
		u.FreeTrialsUsed++
	}
	return true, nil
}

func (q *memQuota) RecordUsageTx(_ context.Context, _ pgx.Tx, _, taskID uuid.UUID, bucket ledger.Bucket) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.usage[taskID]; ok {
		return false, nil
	}
	q.usage[taskID] = bucket
	return true, nil
}

func (q *memQuota) RepairNegativeCounters(context.Context) (int64, error) { return 0, nil }

func (q *memQuota) usageCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.usage)
}

// ---------------------------------------------------------------------------
// fakeProvider
// ---------------------------------------------------------------------------

type fakeProvider struct {
	mu          sync.Mutex
	name        string
	mode        provider.Mode
	submitRes   *provider.SubmitResult
	submitErr   error
	pollRes     *provider.PollResult
	pollErr     error
	submits     int
	polls       int
	lastRequest provider.SubmitRequest
	// pollGate, when set, blocks Poll until it is closed. Each blocked
	// caller first signals on arrived.
	pollGate chan struct{}
	arrived  chan struct{}
}

func newAsyncProvider() *fakeProvider {
	return &fakeProvider{
		name:      "grsai",
		mode:      provider.ModeAsync,
		submitRes: &provider.SubmitResult{Status: provider.StatusPending, ProviderTaskID: "ext-1"},
		pollRes:   &provider.PollResult{Status: provider.StatusProcessing},
	}
}

func newSyncProvider() *fakeProvider {
	return &fakeProvider{
		name: "gemini",
		mode: provider.ModeSync,
		submitRes: &provider.SubmitResult{
			Status:          provider.StatusCompleted,
			ResultImageURL:  "https://cdn.example.com/sync.png",
			ResultObjectKey: "tryon/results/sync.png",
		},
	}
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) Mode() provider.Mode { return f.mode }

func (f *fakeProvider) Submit(_ context.Context, req provider.SubmitRequest) (*provider.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastRequest = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	cp := *f.submitRes
	return &cp, nil
}

func (f *fakeProvider) Poll(_ context.Context, _ string) (*provider.PollResult, error) {
	f.mu.Lock()
	gate, arrived := f.pollGate, f.arrived
	f.mu.Unlock()
	if gate != nil {
		if arrived != nil {
			arrived <- struct{}{}
		}
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	cp := *f.pollRes
	return &cp, nil
}

func (f *fakeProvider) setPoll(res *provider.PollResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollRes = res
	f.pollErr = err
}

func (f *fakeProvider) calls() (submits, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.polls
}

// ---------------------------------------------------------------------------
// fakeMirror and countingListener
// ---------------------------------------------------------------------------

type fakeMirror struct {
	mu      sync.Mutex
	err     error
	puts    []string
	deleted []string
}

func (m *fakeMirror) Mirror(_ context.Context, taskID uuid.UUID, _ string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", "", m.err
	}
	key := "tryon/results/" + taskID.String() + ".png"
	m.puts = append(m.puts, key)
	return key, "https://cdn.example.com/" + key, nil
}

func (m *fakeMirror) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *fakeMirror) counts() (puts, deleted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts), len(m.deleted)
}

// flakyLedger fails the first failDeducts DeductTx calls with err.
type flakyLedger struct {
	QuotaLedger
	mu          sync.Mutex
	failDeducts int
	err         error
}

func (f *flakyLedger) DeductTx(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID) (ledger.Deduction, error) {
	f.mu.Lock()
	if f.failDeducts > 0 {
		f.failDeducts--
		f.mu.Unlock()
		return ledger.Deduction{}, f.err
	}
	f.mu.Unlock()
	return f.QuotaLedger.DeductTx(ctx, tx, userID, taskID)
}

type countingListener struct {
	mu sync.Mutex
	n  int
}

func (c *countingListener) Invalidate(context.Context, uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}
