package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/openhouse/internal/db"
	"github.com/zulandar/openhouse/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T, opts ManagerOpts) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	opts.Clock = clock.Now
	m, err := NewManager(opts)
	require.NoError(t, err)
	return m, clock
}

func TestNewManager_Defaults(t *testing.T) {
	m, err := NewManager(ManagerOpts{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, m.timeout)
	assert.Equal(t, DefaultApprovalTimeout, m.approvalTimeout)
	assert.Equal(t, DefaultSchedule, m.schedule)
}

func TestNewManager_BadSchedule(t *testing.T) {
	_, err := NewManager(ManagerOpts{Schedule: "every minute"})
	assert.Error(t, err)
}

func TestTouch_CreatesOnce(t *testing.T) {
	m, clock := newManager(t, ManagerOpts{})
	ctx := context.Background()

	th, created, err := m.Touch(ctx, "web_1", "web", "site-a")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "web", th.Channel)

	clock.Advance(time.Minute)
	th, created, err = m.Touch(ctx, "web_1", "web", "site-a")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, clock.Now(), th.LastActivity)
	assert.True(t, th.CreatedAt.Before(th.LastActivity))
	assert.Equal(t, 1, m.Len())
}

func TestReap_Idle(t *testing.T) {
	m, clock := newManager(t, ManagerOpts{Timeout: 10 * time.Minute})
	ctx := context.Background()

	var closed []string
	var reasons []Reason
	m.OnExpire(func(_ context.Context, th Thread, r Reason) {
		closed = append(closed, th.ID)
		reasons = append(reasons, r)
	})

	_, _, _ = m.Touch(ctx, "a", "web", "")
	clock.Advance(6 * time.Minute)
	_, _, _ = m.Touch(ctx, "b", "web", "")
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, m.Reap(ctx))
	assert.Equal(t, []string{"a"}, closed)
	assert.Equal(t, []Reason{ReasonIdle}, reasons)
	_, ok := m.Get("b")
	assert.True(t, ok)
}

func TestReap_ApprovalTimeout(t *testing.T) {
	m, clock := newManager(t, ManagerOpts{Timeout: 24 * time.Hour, ApprovalTimeout: 30 * time.Minute})
	ctx := context.Background()

	var reason Reason
	m.OnExpire(func(_ context.Context, _ Thread, r Reason) { reason = r })

	_, _, _ = m.Touch(ctx, "sms_+15125550100", "sms", "+15125550100")
	m.MarkAwaiting("sms_+15125550100", true)
	clock.Advance(20 * time.Minute)
	m.MarkAwaiting("sms_+15125550100", true)
	assert.Equal(t, 0, m.Reap(ctx))

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, m.Reap(ctx))
	assert.Equal(t, ReasonApprovalTimeout, reason)
}

func TestMarkAwaiting_Clear(t *testing.T) {
	m, clock := newManager(t, ManagerOpts{Timeout: 24 * time.Hour, ApprovalTimeout: time.Minute})
	ctx := context.Background()

	_, _, _ = m.Touch(ctx, "t", "web", "")
	m.MarkAwaiting("t", true)
	th, _ := m.Get("t")
	assert.True(t, th.Awaiting())

	m.MarkAwaiting("t", false)
	clock.Advance(time.Hour)
	assert.Equal(t, 0, m.Reap(ctx))

	m.MarkAwaiting("missing", true)
	assert.Equal(t, 1, m.Len())
}

func TestClose(t *testing.T) {
	m, _ := newManager(t, ManagerOpts{})
	ctx := context.Background()

	calls := 0
	m.OnExpire(func(context.Context, Thread, Reason) { calls++ })

	_, _, _ = m.Touch(ctx, "t", "web", "")
	assert.True(t, m.Close(ctx, "t", ReasonDisconnect))
	assert.False(t, m.Close(ctx, "t", ReasonDisconnect))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, m.Len())
}

func TestList_Sorted(t *testing.T) {
	m, _ := newManager(t, ManagerOpts{})
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_, _, _ = m.Touch(ctx, id, "web", "")
	}
	var ids []string
	for _, th := range m.List() {
		ids = append(ids, th.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestPersistence(t *testing.T) {
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	m, clock := newManager(t, ManagerOpts{DB: gdb, Timeout: time.Minute})
	ctx := context.Background()

	_, _, err = m.Touch(ctx, "voice_call1", "voice", "call1")
	require.NoError(t, err)

	var row models.Thread
	require.NoError(t, gdb.First(&row, "thread_id = ?", "voice_call1").Error)
	assert.Equal(t, StatusActive, row.Status)
	assert.Equal(t, "voice", row.Channel)

	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, m.Reap(ctx))

	require.NoError(t, gdb.First(&row, "thread_id = ?", "voice_call1").Error)
	assert.Equal(t, StatusExpired, row.Status)
	assert.Equal(t, string(ReasonIdle), row.CloseReason)
	require.NotNil(t, row.ClosedAt)

	// A returning caller reopens the row.
	_, created, err := m.Touch(ctx, "voice_call1", "voice", "call1")
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, gdb.First(&row, "thread_id = ?", "voice_call1").Error)
	assert.Equal(t, StatusActive, row.Status)
	assert.Nil(t, row.ClosedAt)

	m.Close(ctx, "voice_call1", ReasonClosed)
	require.NoError(t, gdb.First(&row, "thread_id = ?", "voice_call1").Error)
	assert.Equal(t, StatusClosed, row.Status)
}

func TestStart_StopsWithContext(t *testing.T) {
	m, _ := newManager(t, ManagerOpts{Schedule: "@every 1h"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
