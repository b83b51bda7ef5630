// Package session tracks live conversation threads and tears down the ones
// that went quiet. A cron-driven reaper expires threads idle past the session
// timeout and suspended threads whose approval prompt went unanswered.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/metrics"
	"github.com/zulandar/openhouse/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reason says why a thread was torn down.
type Reason string

const (
	ReasonIdle            Reason = "idle"
	ReasonApprovalTimeout Reason = "approval_timeout"
	ReasonDisconnect      Reason = "disconnect"
	ReasonClosed          Reason = "closed"
)

// Thread statuses persisted in the threads table.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusClosed  = "closed"
)

const (
	DefaultTimeout         = time.Hour
	DefaultApprovalTimeout = time.Hour
	DefaultSchedule        = "@every 1m"
)

// Thread is a live conversation.
type Thread struct {
	ID           string
	UserID       string
	Channel      string
	CreatedAt    time.Time
	LastActivity time.Time
	// AwaitingSince is set while the thread waits on an approval reply.
	AwaitingSince *time.Time
}

// Awaiting reports whether the thread is paused on an approval prompt.
func (t Thread) Awaiting() bool { return t.AwaitingSince != nil }

// ExpireFunc is called after a thread has been removed.
type ExpireFunc func(ctx context.Context, t Thread, reason Reason)

// ManagerOpts holds parameters for NewManager.
type ManagerOpts struct {
	// DB persists thread rows. Optional.
	DB              *gorm.DB
	Timeout         time.Duration
	ApprovalTimeout time.Duration
	// Schedule is the reaper's cron spec, e.g. "@every 1m" or "*/5 * * * *".
	Schedule string
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// Manager is the TTL map of live threads.
type Manager struct {
	db              *gorm.DB
	timeout         time.Duration
	approvalTimeout time.Duration
	schedule        string
	metrics         *metrics.Metrics
	now             func() time.Time

	mu      sync.Mutex
	threads map[string]*Thread
	hooks   []ExpireFunc
	cron    *cron.Cron
}

// NewManager creates a Manager. The schedule is validated here so a typo
// fails at startup.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = DefaultApprovalTimeout
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("session: reap schedule %q: %w", opts.Schedule, err)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{
		db:              opts.DB,
		timeout:         opts.Timeout,
		approvalTimeout: opts.ApprovalTimeout,
		schedule:        opts.Schedule,
		metrics:         opts.Metrics,
		now:             opts.Clock,
		threads:         make(map[string]*Thread),
	}, nil
}

// OnExpire registers fn to run for every thread the manager tears down.
func (m *Manager) OnExpire(fn ExpireFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Touch records activity on a thread, creating it on first sight. It reports
// whether the thread is new.
func (m *Manager) Touch(ctx context.Context, id, channel, userID string) (Thread, bool, error) {
	now := m.now()
	m.mu.Lock()
	t, ok := m.threads[id]
	if !ok {
		t = &Thread{ID: id, UserID: userID, Channel: channel, CreatedAt: now}
		m.threads[id] = t
	}
	t.LastActivity = now
	snapshot := *t
	n := len(m.threads)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(n)
	if !ok {
		log.Info().Str("thread", id).Str("channel", channel).Msg("session: thread opened")
	}
	if err := m.persistActivity(ctx, snapshot); err != nil {
		return snapshot, !ok, err
	}
	return snapshot, !ok, nil
}

// MarkAwaiting flags a thread as waiting on an approval reply, or clears the
// flag.
func (m *Manager) MarkAwaiting(id string, awaiting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return
	}
	if !awaiting {
		t.AwaitingSince = nil
		return
	}
	if t.AwaitingSince == nil {
		now := m.now()
		t.AwaitingSince = &now
	}
}

// Get returns a live thread.
func (m *Manager) Get(id string) (Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return Thread{}, false
	}
	return *t, true
}

// Len returns the number of live threads.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

// List returns the live threads ordered by id.
func (m *Manager) List() []Thread {
	m.mu.Lock()
	out := make([]Thread, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, *t)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close tears a thread down and runs the expiry hooks. It reports false when
// the thread was not live.
func (m *Manager) Close(ctx context.Context, id string, reason Reason) bool {
	m.mu.Lock()
	t, ok := m.threads[id]
	if ok {
		delete(m.threads, id)
	}
	hooks := append([]ExpireFunc(nil), m.hooks...)
	n := len(m.threads)
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.metrics.SetActiveSessions(n)
	m.metrics.SessionClosed(string(reason))
	log.Info().Str("thread", id).Str("reason", string(reason)).Msg("session: thread closed")

	if err := m.persistClose(ctx, id, reason); err != nil {
		log.Error().Err(err).Str("thread", id).Msg("session: persist close")
	}
	for _, fn := range hooks {
		fn(ctx, *t, reason)
	}
	return true
}

// Reap closes every thread past its deadline and returns how many it closed.
func (m *Manager) Reap(ctx context.Context) int {
	now := m.now()
	type victim struct {
		id     string
		reason Reason
	}
	var victims []victim

	m.mu.Lock()
	for id, t := range m.threads {
		switch {
		case t.AwaitingSince != nil && now.Sub(*t.AwaitingSince) > m.approvalTimeout:
			victims = append(victims, victim{id, ReasonApprovalTimeout})
		case now.Sub(t.LastActivity) > m.timeout:
			victims = append(victims, victim{id, ReasonIdle})
		}
	}
	m.mu.Unlock()

	sort.Slice(victims, func(i, j int) bool { return victims[i].id < victims[j].id })
	closed := 0
	for _, v := range victims {
		if m.Close(ctx, v.id, v.reason) {
			closed++
		}
	}
	return closed
}

// Start runs the reaper on its schedule until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(m.schedule, func() {
		if n := m.Reap(ctx); n > 0 {
			log.Info().Int("closed", n).Msg("session: reaped idle threads")
		}
	}); err != nil {
		return fmt.Errorf("session: schedule reaper: %w", err)
	}
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()

	c.Start()
	log.Info().Str("schedule", m.schedule).Dur("timeout", m.timeout).Msg("session: reaper started")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (m *Manager) persistActivity(ctx context.Context, t Thread) error {
	if m.db == nil {
		return nil
	}
	row := models.Thread{
		ThreadID:     t.ID,
		UserID:       t.UserID,
		Channel:      t.Channel,
		Status:       StatusActive,
		LastActivity: t.LastActivity,
		CreatedAt:    t.CreatedAt,
	}
	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_activity", "close_reason", "closed_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("session: save thread %s: %w", t.ID, err)
	}
	return nil
}

func (m *Manager) persistClose(ctx context.Context, id string, reason Reason) error {
	if m.db == nil {
		return nil
	}
	status := StatusClosed
	if reason == ReasonIdle || reason == ReasonApprovalTimeout {
		status = StatusExpired
	}
	now := m.now()
	return m.db.WithContext(ctx).Model(&models.Thread{}).
		Where("thread_id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"close_reason": string(reason),
			"closed_at":    &now,
		}).Error
}
