// Package calendar is the appointment backend used by the calendar tools:
// Google Calendar in production, an in-memory calendar for tests and demos.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for an unknown event id.
var ErrNotFound = errors.New("calendar: event not found")

// Send-update policies for attendee notifications.
const (
	SendAll          = "all"
	SendExternalOnly = "externalOnly"
	SendNone         = "none"
)

// Event is a calendar entry.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TimeZone    string    `json:"time_zone,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Status      string    `json:"status,omitempty"`
	Link        string    `json:"link,omitempty"`
}

// EventPatch changes selected fields of an event. Nil fields are kept.
type EventPatch struct {
	Summary     *string
	Description *string
	Location    *string
	Start       *time.Time
	End         *time.Time
	Attendees   []string
}

// Apply returns ev with the patch applied.
func (p EventPatch) Apply(ev Event) Event {
	if p.Summary != nil {
		ev.Summary = *p.Summary
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	if p.Start != nil {
		ev.Start = *p.Start
	}
	if p.End != nil {
		ev.End = *p.End
	}
	if p.Attendees != nil {
		ev.Attendees = append([]string(nil), p.Attendees...)
	}
	return ev
}

// Calendar is an entry of the user's calendar list.
type Calendar struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Primary  bool   `json:"primary,omitempty"`
	TimeZone string `json:"time_zone,omitempty"`
}

// Period is a busy interval.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether p intersects [start, end).
func (p Period) Overlaps(start, end time.Time) bool {
	return p.Start.Before(end) && start.Before(p.End)
}

// Service is the calendar backend.
type Service interface {
	CreateEvent(ctx context.Context, ev Event, sendUpdates string) (Event, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
	UpdateEvent(ctx context.Context, id string, patch EventPatch, sendUpdates string) (Event, error)
	DeleteEvent(ctx context.Context, id string, sendUpdates string) error
	ListCalendars(ctx context.Context) ([]Calendar, error)
	FreeBusy(ctx context.Context, calendarIDs []string, from, to time.Time) (map[string][]Period, error)
	// TimeZone returns the IANA zone of the default calendar.
	TimeZone(ctx context.Context) (string, error)
}
