package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var base = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func TestMemory_CreateListDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("America/Chicago")

	ev, err := m.CreateEvent(ctx, Event{Summary: "Viewing", Start: base, End: base.Add(time.Hour), Attendees: []string{"a@example.com"}}, SendAll)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "America/Chicago", ev.TimeZone)

	events, err := m.ListEvents(ctx, base.Add(-time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = m.ListEvents(ctx, base.Add(2*time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, m.DeleteEvent(ctx, ev.ID, SendNone))
	err = m.DeleteEvent(ctx, ev.ID, SendNone)
	assert.True(t, errors.Is(err, ErrNotFound))

	creates, updates, deletes := m.Mutations()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates)
	assert.Equal(t, 1, deletes)
}

func TestMemory_RejectsInvertedRange(t *testing.T) {
	m := NewMemory("")
	_, err := m.CreateEvent(context.Background(), Event{Start: base, End: base}, SendNone)
	assert.Error(t, err)
}

func TestMemory_UpdateAndFreeBusy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("UTC")
	ev, err := m.CreateEvent(ctx, Event{Summary: "Viewing", Start: base, End: base.Add(time.Hour)}, SendNone)
	require.NoError(t, err)

	newStart := base.Add(2 * time.Hour)
	newEnd := newStart.Add(30 * time.Minute)
	title := "Second viewing"
	updated, err := m.UpdateEvent(ctx, ev.ID, EventPatch{Summary: &title, Start: &newStart, End: &newEnd}, SendNone)
	require.NoError(t, err)
	assert.Equal(t, "Second viewing", updated.Summary)

	busy, err := m.FreeBusy(ctx, []string{"primary", "other"}, base, base.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy["primary"], 1)
	assert.True(t, busy["primary"][0].Start.Equal(newStart))
	assert.Empty(t, busy["other"])
}

func TestPeriodOverlaps(t *testing.T) {
	p := Period{Start: base, End: base.Add(time.Hour)}
	assert.True(t, p.Overlaps(base.Add(30*time.Minute), base.Add(2*time.Hour)))
	assert.False(t, p.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)), "touching end is free")
	assert.False(t, p.Overlaps(base.Add(-time.Hour), base))
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	tok := &oauth2.Token{AccessToken: "abc", RefreshToken: "def", TokenType: "Bearer"}

	require.NoError(t, SaveToken(path, tok))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.AccessToken)
	assert.Equal(t, "def", got.RefreshToken)
}

func TestOAuthConfig_MissingFile(t *testing.T) {
	_, err := OAuthConfig("")
	assert.Error(t, err)
	_, err = OAuthConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestGoogle_CreateEvent(t *testing.T) {
	var posted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"), r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("sendUpdates"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &posted))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "evt1",
			"status": "confirmed",
			"summary": "Viewing",
			"htmlLink": "https://calendar.example/evt1",
			"start": {"dateTime": "2026-03-02T15:00:00Z", "timeZone": "UTC"},
			"end": {"dateTime": "2026-03-02T16:00:00Z", "timeZone": "UTC"},
			"attendees": [{"email": "buyer@example.com"}]
		}`)
	}))
	defer srv.Close()

	g, err := NewGoogle(context.Background(), GoogleOpts{HTTPClient: srv.Client(), Endpoint: srv.URL + "/"})
	require.NoError(t, err)

	ev, err := g.CreateEvent(context.Background(), Event{
		Summary:   "Viewing",
		Start:     base,
		End:       base.Add(time.Hour),
		TimeZone:  "UTC",
		Attendees: []string{"buyer@example.com"},
	}, SendAll)
	require.NoError(t, err)

	assert.Equal(t, "evt1", ev.ID)
	assert.Equal(t, "https://calendar.example/evt1", ev.Link)
	assert.True(t, ev.Start.Equal(base))
	assert.Equal(t, []string{"buyer@example.com"}, ev.Attendees)
	assert.Equal(t, "Viewing", posted["summary"])
}

func TestGoogle_DeleteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not Found"}}`)
	}))
	defer srv.Close()

	g, err := NewGoogle(context.Background(), GoogleOpts{HTTPClient: srv.Client(), Endpoint: srv.URL + "/"})
	require.NoError(t, err)

	err = g.DeleteEvent(context.Background(), "missing", SendNone)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}
