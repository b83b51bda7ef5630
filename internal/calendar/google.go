package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleOpts holds parameters for NewGoogle.
type GoogleOpts struct {
	// CredentialsFile is the OAuth client JSON downloaded from the Google
	// Cloud console.
	CredentialsFile string
	// TokenFile holds the user token written by Authorize.
	TokenFile string
	// CalendarID defaults to "primary".
	CalendarID string
	// HTTPClient overrides the OAuth client. Used by tests.
	HTTPClient *http.Client
	// Endpoint overrides the API base URL. Used by tests.
	Endpoint string
}

// Google is a Service backed by the Google Calendar API.
type Google struct {
	srv        *gcal.Service
	calendarID string
}

// NewGoogle creates a Google calendar client.
func NewGoogle(ctx context.Context, opts GoogleOpts) (*Google, error) {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}

	client := opts.HTTPClient
	if client == nil {
		cfg, err := OAuthConfig(opts.CredentialsFile)
		if err != nil {
			return nil, err
		}
		tok, err := LoadToken(opts.TokenFile)
		if err != nil {
			return nil, err
		}
		client = cfg.Client(ctx, tok)
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	srv, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: new service: %w", err)
	}
	return &Google{srv: srv, calendarID: opts.CalendarID}, nil
}

// OAuthConfig reads an OAuth client credentials file.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	if credentialsFile == "" {
		return nil, fmt.Errorf("calendar: credentials file is required")
	}
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("calendar: read %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(b, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse %s: %w", credentialsFile, err)
	}
	return cfg, nil
}

// LoadToken reads a saved OAuth token.
func LoadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, fmt.Errorf("calendar: token file is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read token %s: %w", path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("calendar: parse token %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("calendar: marshal token: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("calendar: write token %s: %w", path, err)
	}
	return nil
}

func (g *Google) CreateEvent(ctx context.Context, ev Event, sendUpdates string) (Event, error) {
	call := g.srv.Events.Insert(g.calendarID, toGoogle(ev)).Context(ctx)
	if sendUpdates != "" {
		call = call.SendUpdates(sendUpdates)
	}
	created, err := call.Do()
	if err != nil {
		return Event{}, fmt.Errorf("calendar: create event: %w", err)
	}
	return fromGoogle(created), nil
}

func (g *Google) GetEvent(ctx context.Context, id string) (Event, error) {
	ev, err := g.srv.Events.Get(g.calendarID, id).Context(ctx).Do()
	if err != nil {
		return Event{}, wrapNotFound("get event", id, err)
	}
	return fromGoogle(ev), nil
}

func (g *Google) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	res, err := g.srv.Events.List(g.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}
	out := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, fromGoogle(item))
	}
	return out, nil
}

func (g *Google) UpdateEvent(ctx context.Context, id string, patch EventPatch, sendUpdates string) (Event, error) {
	current, err := g.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	call := g.srv.Events.Update(g.calendarID, id, toGoogle(patch.Apply(current))).Context(ctx)
	if sendUpdates != "" {
		call = call.SendUpdates(sendUpdates)
	}
	updated, err := call.Do()
	if err != nil {
		return Event{}, wrapNotFound("update event", id, err)
	}
	return fromGoogle(updated), nil
}

func (g *Google) DeleteEvent(ctx context.Context, id string, sendUpdates string) error {
	call := g.srv.Events.Delete(g.calendarID, id).Context(ctx)
	if sendUpdates != "" {
		call = call.SendUpdates(sendUpdates)
	}
	if err := call.Do(); err != nil {
		return wrapNotFound("delete event", id, err)
	}
	return nil
}

func (g *Google) ListCalendars(ctx context.Context) ([]Calendar, error) {
	res, err := g.srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list calendars: %w", err)
	}
	out := make([]Calendar, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, Calendar{
			ID:       item.Id,
			Summary:  item.Summary,
			Primary:  item.Primary,
			TimeZone: item.TimeZone,
		})
	}
	return out, nil
}

func (g *Google) FreeBusy(ctx context.Context, calendarIDs []string, from, to time.Time) (map[string][]Period, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
	}
	for _, id := range calendarIDs {
		req.Items = append(req.Items, &gcal.FreeBusyRequestItem{Id: id})
	}
	res, err := g.srv.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy: %w", err)
	}
	out := make(map[string][]Period, len(res.Calendars))
	for id, cal := range res.Calendars {
		var busy []Period
		for _, p := range cal.Busy {
			start, err1 := time.Parse(time.RFC3339, p.Start)
			end, err2 := time.Parse(time.RFC3339, p.End)
			if err1 != nil || err2 != nil {
				continue
			}
			busy = append(busy, Period{Start: start, End: end})
		}
		out[id] = busy
	}
	return out, nil
}

func (g *Google) TimeZone(ctx context.Context) (string, error) {
	s, err := g.srv.Settings.Get("timezone").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: get timezone: %w", err)
	}
	return s.Value, nil
}

func toGoogle(ev Event) *gcal.Event {
	out := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
	}
	for _, email := range ev.Attendees {
		out.Attendees = append(out.Attendees, &gcal.EventAttendee{Email: email})
	}
	return out
}

func fromGoogle(ev *gcal.Event) Event {
	out := Event{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
		Link:        ev.HtmlLink,
	}
	if ev.Start != nil {
		out.Start = parseEventTime(ev.Start)
		out.TimeZone = ev.Start.TimeZone
	}
	if ev.End != nil {
		out.End = parseEventTime(ev.End)
	}
	for _, a := range ev.Attendees {
		out.Attendees = append(out.Attendees, a.Email)
	}
	return out
}

// parseEventTime handles both timed and all-day events.
func parseEventTime(dt *gcal.EventDateTime) time.Time {
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func wrapNotFound(op, id string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("calendar: %s %s: %w", op, id, err)
}
