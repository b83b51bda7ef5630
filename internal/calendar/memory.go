package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process calendar with a single default calendar.
type Memory struct {
	mu       sync.Mutex
	id       string
	tz       string
	events   map[string]Event
	creates  int
	updates  int
	deletes  int
	calendar []Calendar
}

// NewMemory returns an empty calendar in the given IANA zone.
func NewMemory(timeZone string) *Memory {
	if timeZone == "" {
		timeZone = "UTC"
	}
	return &Memory{
		id:       "primary",
		tz:       timeZone,
		events:   make(map[string]Event),
		calendar: []Calendar{{ID: "primary", Summary: "Primary", Primary: true, TimeZone: timeZone}},
	}
}

func (m *Memory) CreateEvent(_ context.Context, ev Event, _ string) (Event, error) {
	if !ev.End.After(ev.Start) {
		return Event{}, fmt.Errorf("calendar: event must end after it starts")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = uuid.NewString()
	if ev.Status == "" {
		ev.Status = "confirmed"
	}
	if ev.TimeZone == "" {
		ev.TimeZone = m.tz
	}
	m.events[ev.ID] = ev
	m.creates++
	return ev, nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ev, nil
}

func (m *Memory) ListEvents(_ context.Context, from, to time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if (Period{Start: ev.Start, End: ev.End}).Overlaps(from, to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) UpdateEvent(_ context.Context, id string, patch EventPatch, _ string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ev = patch.Apply(ev)
	if !ev.End.After(ev.Start) {
		return Event{}, fmt.Errorf("calendar: event must end after it starts")
	}
	m.events[id] = ev
	m.updates++
	return ev, nil
}

func (m *Memory) DeleteEvent(_ context.Context, id string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.events, id)
	m.deletes++
	return nil
}

func (m *Memory) ListCalendars(context.Context) ([]Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Calendar(nil), m.calendar...), nil
}

func (m *Memory) FreeBusy(_ context.Context, calendarIDs []string, from, to time.Time) (map[string][]Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]Period, len(calendarIDs))
	for _, id := range calendarIDs {
		if id != m.id {
			out[id] = nil
			continue
		}
		var busy []Period
		for _, ev := range m.events {
			p := Period{Start: ev.Start, End: ev.End}
			if p.Overlaps(from, to) {
				busy = append(busy, p)
			}
		}
		sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
		out[id] = busy
	}
	return out, nil
}

func (m *Memory) TimeZone(context.Context) (string, error) {
	return m.tz, nil
}

// Count returns the number of stored events.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Mutations returns how many events were created, updated, and deleted.
func (m *Memory) Mutations() (creates, updates, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.updates, m.deletes
}
