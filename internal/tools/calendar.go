package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/zulandar/openhouse/internal/calendar"
)

// Calendar tool names.
const (
	ListEvents            = "list_events"
	GetCalendarList       = "get_calendar_list"
	GetFreeBusyInfo       = "get_freebusy_info"
	IsAvailableForMeeting = "is_available_for_meeting"
	CreateEvent           = "create_event"
	UpdateEvent           = "update_event"
	DeleteEvent           = "delete_event"
)

const defaultListWindow = 7 * 24 * time.Hour

// CalendarTools exposes a calendar.Service to agents.
type CalendarTools struct {
	svc calendar.Service
	now func() time.Time

	once sync.Once
	loc  *time.Location
}

// NewCalendarTools wraps svc. clock defaults to time.Now.
func NewCalendarTools(svc calendar.Service, clock func() time.Time) *CalendarTools {
	if clock == nil {
		clock = time.Now
	}
	return &CalendarTools{svc: svc, now: clock}
}

// Register adds the calendar tools to r. Mutating tools are sensitive.
func (c *CalendarTools) Register(r *Registry) error {
	safe := []Tool{
		{
			Name:        ListEvents,
			Description: "List events on the calendar between time_min and time_max. Defaults to the next seven days.",
			Parameters: object(nil, map[string]*openapi3.Schema{
				"time_min": str("Start of the window, RFC 3339."),
				"time_max": str("End of the window, RFC 3339."),
			}),
			Call: c.listEvents,
		},
		{
			Name:        GetCalendarList,
			Description: "List the calendars the assistant can see.",
			Parameters:  object(nil, nil),
			Call:        c.calendarList,
		},
		{
			Name:        GetFreeBusyInfo,
			Description: "Get busy periods for one or more calendars in a time window.",
			Parameters: object([]string{"start_time", "end_time"}, map[string]*openapi3.Schema{
				"calendar_ids": strList("Calendar ids. Defaults to the primary calendar.", 0),
				"start_time":   str("Start of the window, RFC 3339."),
				"end_time":     str("End of the window, RFC 3339."),
			}),
			Call: c.freeBusy,
		},
		{
			Name:        IsAvailableForMeeting,
			Description: "Check whether the calendar is free for the whole of a proposed meeting.",
			Parameters: object([]string{"start_time", "end_time"}, map[string]*openapi3.Schema{
				"calendar_id": str("Calendar id. Defaults to the primary calendar."),
				"start_time":  str("Meeting start, RFC 3339."),
				"end_time":    str("Meeting end, RFC 3339."),
			}),
			Call: c.isAvailable,
		},
	}
	sensitive := []Tool{
		{
			Name:        CreateEvent,
			Description: "Create a calendar event such as a property viewing. At least one attendee email is required.",
			Parameters: object([]string{"summary", "start_time", "end_time", "attendees"}, map[string]*openapi3.Schema{
				"summary":      str("Event title."),
				"description":  str("Event details."),
				"location":     str("Address of the property or meeting place."),
				"start_time":   str("Event start, RFC 3339."),
				"end_time":     str("Event end, RFC 3339."),
				"attendees":    strList("Attendee email addresses.", 1),
				"send_updates": sendUpdates(),
			}),
			Call:     c.createEvent,
			Describe: describeCreate,
		},
		{
			Name:        UpdateEvent,
			Description: "Change an existing event. Only the supplied fields are modified.",
			Parameters: object([]string{"event_id"}, map[string]*openapi3.Schema{
				"event_id":     str("Id of the event to change."),
				"summary":      str("New title."),
				"description":  str("New details."),
				"location":     str("New location."),
				"start_time":   str("New start, RFC 3339."),
				"end_time":     str("New end, RFC 3339."),
				"attendees":    strList("Replacement attendee list.", 0),
				"send_updates": sendUpdates(),
			}),
			Call:     c.updateEvent,
			Describe: describeUpdate,
		},
		{
			Name:        DeleteEvent,
			Description: "Cancel an event.",
			Parameters: object([]string{"event_id"}, map[string]*openapi3.Schema{
				"event_id":     str("Id of the event to cancel."),
				"send_updates": sendUpdates(),
			}),
			Call:     c.deleteEvent,
			Describe: func(a Args) string { return fmt.Sprintf("Cancel event %s", a.String("event_id")) },
		},
	}

	for _, t := range safe {
		if err := r.Register(t, Safe); err != nil {
			return err
		}
	}
	for _, t := range sensitive {
		if err := r.Register(t, Sensitive); err != nil {
			return err
		}
	}
	return nil
}

// location resolves the calendar's zone once; failures fall back to UTC.
func (c *CalendarTools) location(ctx context.Context) *time.Location {
	c.once.Do(func() {
		c.loc = time.UTC
		tz, err := c.svc.TimeZone(ctx)
		if err != nil || tz == "" {
			return
		}
		if loc, err := time.LoadLocation(tz); err == nil {
			c.loc = loc
		}
	})
	return c.loc
}

func (c *CalendarTools) window(ctx context.Context, a Args, fromKey, toKey string) (time.Time, time.Time, error) {
	loc := c.location(ctx)
	from := c.now().In(loc)
	if a.Has(fromKey) {
		t, err := a.Time(fromKey, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	to := from.Add(defaultListWindow)
	if a.Has(toKey) {
		t, err := a.Time(toKey, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%s must be after %s", toKey, fromKey)
	}
	return from, to, nil
}

func (c *CalendarTools) listEvents(ctx context.Context, a Args) (string, error) {
	from, to, err := c.window(ctx, a, "time_min", "time_max")
	if err != nil {
		return "", err
	}
	events, err := c.svc.ListEvents(ctx, from, to)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("No events between %s and %s.", from.Format(time.RFC3339), to.Format(time.RFC3339)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d event(s):\n", len(events))
	for _, ev := range events {
		b.WriteString(formatEvent(ev))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *CalendarTools) calendarList(ctx context.Context, _ Args) (string, error) {
	cals, err := c.svc.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	if len(cals) == 0 {
		return "No calendars available.", nil
	}
	var lines []string
	for _, cal := range cals {
		line := fmt.Sprintf("- %s (id: %s, time zone: %s)", cal.Summary, cal.ID, cal.TimeZone)
		if cal.Primary {
			line += " [primary]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (c *CalendarTools) freeBusy(ctx context.Context, a Args) (string, error) {
	from, to, err := c.window(ctx, a, "start_time", "end_time")
	if err != nil {
		return "", err
	}
	ids := a.Strings("calendar_ids")
	if len(ids) == 0 {
		ids = []string{"primary"}
	}
	busy, err := c.svc.FreeBusy(ctx, ids, from, to)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, id := range ids {
		periods := busy[id]
		if len(periods) == 0 {
			fmt.Fprintf(&b, "%s: free for the whole window\n", id)
			continue
		}
		fmt.Fprintf(&b, "%s: busy\n", id)
		for _, p := range periods {
			fmt.Fprintf(&b, "  %s to %s\n", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *CalendarTools) isAvailable(ctx context.Context, a Args) (string, error) {
	from, to, err := c.window(ctx, a, "start_time", "end_time")
	if err != nil {
		return "", err
	}
	id := a.String("calendar_id")
	if id == "" {
		id = "primary"
	}
	busy, err := c.svc.FreeBusy(ctx, []string{id}, from, to)
	if err != nil {
		return "", err
	}
	var conflicts []string
	for _, p := range busy[id] {
		if p.Overlaps(from, to) {
			conflicts = append(conflicts, fmt.Sprintf("%s to %s", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339)))
		}
	}
	if len(conflicts) == 0 {
		return fmt.Sprintf("Available from %s to %s.", from.Format(time.RFC3339), to.Format(time.RFC3339)), nil
	}
	return "Not available. Conflicts: " + strings.Join(conflicts, "; "), nil
}

func (c *CalendarTools) createEvent(ctx context.Context, a Args) (string, error) {
	loc := c.location(ctx)
	start, err := a.Time("start_time", loc)
	if err != nil {
		return "", err
	}
	end, err := a.Time("end_time", loc)
	if err != nil {
		return "", err
	}
	if !end.After(start) {
		return "", fmt.Errorf("end_time must be after start_time")
	}
	attendees := a.Strings("attendees")
	if len(attendees) == 0 {
		return "", fmt.Errorf("at least one attendee email is required")
	}
	for _, email := range attendees {
		if !strings.Contains(email, "@") {
			return "", fmt.Errorf("%q is not an email address", email)
		}
	}

	ev, err := c.svc.CreateEvent(ctx, calendar.Event{
		Summary:     a.String("summary"),
		Description: a.String("description"),
		Location:    a.String("location"),
		Start:       start,
		End:         end,
		TimeZone:    loc.String(),
		Attendees:   attendees,
	}, sendUpdatesArg(a))
	if err != nil {
		return "", err
	}
	return "Event created: " + formatEvent(ev), nil
}

func (c *CalendarTools) updateEvent(ctx context.Context, a Args) (string, error) {
	loc := c.location(ctx)
	var patch calendar.EventPatch
	for key, dst := range map[string]**string{"summary": &patch.Summary, "description": &patch.Description, "location": &patch.Location} {
		if a.Has(key) {
			v := a.String(key)
			*dst = &v
		}
	}
	if a.Has("start_time") {
		t, err := a.Time("start_time", loc)
		if err != nil {
			return "", err
		}
		patch.Start = &t
	}
	if a.Has("end_time") {
		t, err := a.Time("end_time", loc)
		if err != nil {
			return "", err
		}
		patch.End = &t
	}
	if a.Has("attendees") {
		patch.Attendees = a.Strings("attendees")
		if patch.Attendees == nil {
			patch.Attendees = []string{}
		}
	}

	ev, err := c.svc.UpdateEvent(ctx, a.String("event_id"), patch, sendUpdatesArg(a))
	if err != nil {
		return "", err
	}
	return "Event updated: " + formatEvent(ev), nil
}

func (c *CalendarTools) deleteEvent(ctx context.Context, a Args) (string, error) {
	id := a.String("event_id")
	if err := c.svc.DeleteEvent(ctx, id, sendUpdatesArg(a)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Event %s deleted.", id), nil
}

func formatEvent(ev calendar.Event) string {
	s := fmt.Sprintf("[%s] %s, %s to %s", ev.ID, ev.Summary, ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339))
	if ev.Location != "" {
		s += " at " + ev.Location
	}
	if len(ev.Attendees) > 0 {
		s += " with " + strings.Join(ev.Attendees, ", ")
	}
	if ev.Link != "" {
		s += " (" + ev.Link + ")"
	}
	return s
}

func describeCreate(a Args) string {
	s := fmt.Sprintf("Create event %q from %s to %s", a.String("summary"), a.String("start_time"), a.String("end_time"))
	if loc := a.String("location"); loc != "" {
		s += " at " + loc
	}
	if att := a.Strings("attendees"); len(att) > 0 {
		s += ", inviting " + strings.Join(att, ", ")
	}
	return s
}

func describeUpdate(a Args) string {
	var changes []string
	for _, k := range []string{"summary", "description", "location", "start_time", "end_time"} {
		if a.Has(k) {
			changes = append(changes, fmt.Sprintf("%s=%q", k, a.String(k)))
		}
	}
	if a.Has("attendees") {
		changes = append(changes, "attendees="+strings.Join(a.Strings("attendees"), ","))
	}
	return fmt.Sprintf("Update event %s: %s", a.String("event_id"), strings.Join(changes, ", "))
}

func sendUpdatesArg(a Args) string {
	if s := a.String("send_updates"); s != "" {
		return s
	}
	return calendar.SendAll
}

func object(required []string, props map[string]*openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	for name, p := range props {
		s.WithProperty(name, p)
	}
	if len(required) > 0 {
		s.Required = required
	}
	return s
}

func str(desc string) *openapi3.Schema {
	s := openapi3.NewStringSchema()
	s.Description = desc
	return s
}

func strList(desc string, minItems int64) *openapi3.Schema {
	s := openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
	if minItems > 0 {
		s = s.WithMinItems(minItems)
	}
	s.Description = desc
	return s
}

func sendUpdates() *openapi3.Schema {
	s := openapi3.NewStringSchema().WithEnum(calendar.SendAll, calendar.SendExternalOnly, calendar.SendNone)
	s.Description = "Who is notified of the change. Defaults to all."
	return s
}
