package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/openhouse/internal/calendar"
	"github.com/zulandar/openhouse/internal/db"
	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/graph"
	"github.com/zulandar/openhouse/internal/llm"
	"github.com/zulandar/openhouse/internal/property"
	"github.com/zulandar/openhouse/internal/sms"
	"github.com/zulandar/openhouse/internal/tools"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	model  *llm.Scripted
	cal    *calendar.Memory
	texts  *sms.Recorder
	engine *graph.Engine
	cp     *graph.MemoryCheckpointer
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	_, err = db.SeedProperties(gdb)
	require.NoError(t, err)

	h := &harness{
		model: llm.NewScripted(),
		cal:   calendar.NewMemory("UTC"),
		texts: &sms.Recorder{},
		cp:    graph.NewMemoryCheckpointer(),
		now:   testNow,
	}
	clock := func() time.Time { return h.now }

	reg := tools.NewRegistry()
	require.NoError(t, tools.NewCalendarTools(h.cal, clock).Register(reg))
	require.NoError(t, tools.RegisterConfirmation(reg, h.texts))
	exec, err := tools.NewExecutor(tools.ExecutorOpts{Registry: reg})
	require.NoError(t, err)

	g, err := Build(Deps{
		Model:      h.model,
		Properties: property.New(gdb, 3),
		Executor:   exec,
		Clock:      clock,
	})
	require.NoError(t, err)

	h.engine, err = graph.NewEngine(graph.EngineOpts{Graph: g, Checkpointer: h.cp, Clock: clock})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, in graph.Input) *graph.Result {
	t.Helper()
	res, err := h.engine.Run(context.Background(), "t1", in)
	require.NoError(t, err)
	return res
}

func (h *harness) state(t *testing.T) dialog.State {
	t.Helper()
	st, ok, err := h.engine.State(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)
	return st
}

func toolMessages(msgs []dialog.Message) map[string]string {
	out := make(map[string]string)
	for _, m := range msgs {
		if m.Role == dialog.RoleTool {
			out[m.ToolCallID] = m.Content
		}
	}
	return out
}

var viewing = map[string]any{
	"summary":    "Viewing: 1208 Willow Bend Dr",
	"location":   "1208 Willow Bend Dr, Austin",
	"start_time": "2026-03-03T15:00:00Z",
	"end_time":   "2026-03-03T16:00:00Z",
	"attendees":  []string{"buyer@example.com"},
}

func TestBuild_RequiresDeps(t *testing.T) {
	_, err := Build(Deps{})
	assert.Error(t, err)
}

func TestPlainReply(t *testing.T) {
	h := newHarness(t)
	h.model.On(string(graph.MainAgent), llm.Reply("Hi! Looking to buy or just browsing?"))

	res := h.run(t, graph.UserInput("hello"))
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, "Hi! Looking to buy or just browsing?", res.Reply)

	req := h.model.RequestsFor(string(graph.MainAgent))[0]
	names := []string{req.Tools[0].Name, req.Tools[1].Name}
	assert.Equal(t, []string{ToSearchAgent, ToAppointmentAgent}, names)
	assert.Contains(t, req.System, "real estate assistant")
}

func TestSearchFlow(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent),
			llm.CallTool("m1", ToSearchAgent, map[string]string{"request": "3 bedrooms in Austin"}),
			llm.Reply("I found three lovely homes in Austin."),
		).
		On(string(graph.SearchCriteriaAgent),
			llm.Reply(`{"new_search": true, "search_criteria": {"city": "Austin", "state": "Texas", "min_bedrooms": 3}}`),
		)

	res := h.run(t, graph.UserInput("Show me 3 bedroom houses in Austin"))
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, "I found three lovely homes in Austin.", res.Reply)

	st := h.state(t)
	require.NotNil(t, st.Criteria.City)
	assert.Equal(t, "Austin", *st.Criteria.City)
	assert.Equal(t, 3, *st.Criteria.MinBedrooms)

	// user, handoff, ack, summary, results, final reply
	require.Len(t, st.Messages, 6)
	assert.Equal(t, dialog.ToolResult("m1", EnteringAck), st.Messages[2])
	assert.Contains(t, st.Messages[3].Content, "City: Austin")
	assert.True(t, strings.HasPrefix(st.Messages[4].Content, "Here are 3 properties"), st.Messages[4].Content)

	ex := h.model.RequestsFor(string(graph.SearchCriteriaAgent))[0]
	assert.True(t, ex.JSONMode)
	assert.Equal(t, "User Query: Show me 3 bedroom houses in Austin", ex.Messages[1].Content)
	assert.Equal(t, "Additional context: 3 bedrooms in Austin", ex.Messages[2].Content)

	final := h.model.RequestsFor(string(graph.MainAgent))[1]
	assert.Equal(t, st.Messages[4], final.Messages[len(final.Messages)-1], "main agent sees the results")
}

func TestSearchFlow_MergesFollowUp(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent),
			llm.CallTool("m1", ToSearchAgent, map[string]string{"request": "Austin"}),
			llm.Reply("Here you go."),
			llm.CallTool("m2", ToSearchAgent, map[string]string{"request": "under 600k"}),
			llm.Reply("Two fit your budget."),
		).
		On(string(graph.SearchCriteriaAgent),
			llm.Reply(`{"new_search": true, "search_criteria": {"city": "Austin", "state": "Texas"}}`),
			llm.Reply(`{"new_search": false, "search_criteria": {"max_price": 600000}}`),
		)

	h.run(t, graph.UserInput("Houses in Austin"))
	h.run(t, graph.UserInput("Only under 600k please"))

	st := h.state(t)
	assert.Equal(t, "Austin", *st.Criteria.City)
	assert.Equal(t, "Texas", *st.Criteria.State)
	assert.Equal(t, 600000.0, *st.Criteria.MaxPrice)

	second := h.model.RequestsFor(string(graph.SearchCriteriaAgent))[1]
	assert.Contains(t, second.Messages[0].Content, `"city":"Austin"`)
}

func TestSearchFlow_NewSearchReplaces(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent),
			llm.CallTool("m1", ToSearchAgent, map[string]string{"request": "Austin 3 bed"}),
			llm.Reply("ok"),
			llm.CallTool("m2", ToSearchAgent, map[string]string{"request": "Boston"}),
			llm.Reply("ok"),
		).
		On(string(graph.SearchCriteriaAgent),
			llm.Reply(`{"new_search": true, "search_criteria": {"city": "Austin", "min_bedrooms": 3}}`),
			llm.Reply(`{"new_search": true, "search_criteria": {"city": "Boston", "state": "Massachusetts"}}`),
		)

	h.run(t, graph.UserInput("Austin, 3 bedrooms"))
	h.run(t, graph.UserInput("Actually what about Boston?"))

	st := h.state(t)
	assert.Equal(t, "Boston", *st.Criteria.City)
	assert.Nil(t, st.Criteria.MinBedrooms)
}

func TestSearchFlow_RepairsMalformedJSON(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent),
			llm.CallTool("m1", ToSearchAgent, map[string]string{"request": "Houston"}),
			llm.Reply("ok"),
		).
		On(string(graph.SearchCriteriaAgent),
			llm.Reply(`{"new_search": true, "search_criteria": {"city": "Houston", "state": "Texas",}}`),
		)

	h.run(t, graph.UserInput("Anything in Houston?"))
	st := h.state(t)
	require.NotNil(t, st.Criteria.City)
	assert.Equal(t, "Houston", *st.Criteria.City)
}

func TestSearchFlow_ExtractionFailureKeepsCriteria(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent),
			llm.CallTool("m1", ToSearchAgent, map[string]string{"request": "Austin"}),
			llm.Reply("ok"),
			llm.CallTool("m2", ToSearchAgent, map[string]string{"request": "cheap"}),
			llm.Reply("Could you say that another way?"),
		).
		On(string(graph.SearchCriteriaAgent),
			llm.Reply(`{"new_search": true, "search_criteria": {"city": "Austin"}}`),
			llm.Reply(`{"search_criteria": {"min_price": 900000, "max_price": 100000}}`),
			llm.Reply(`{"search_criteria": {"min_price": 900000, "max_price": 100000}}`),
		)

	h.run(t, graph.UserInput("Austin"))
	res := h.run(t, graph.UserInput("something cheap but expensive"))
	assert.Equal(t, graph.StatusCompleted, res.Status)

	st := h.state(t)
	assert.Equal(t, "Austin", *st.Criteria.City)
	assert.Nil(t, st.Criteria.MaxPrice)
	assert.Equal(t, 0, h.model.Pending())

	var sawFailure bool
	for _, m := range res.Messages {
		if m.Content == ExtractionFailedReply {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
	assert.Equal(t, EnteringAck, toolMessages(res.Messages)["m2"])

	retry := h.model.RequestsFor(string(graph.SearchCriteriaAgent))[2]
	assert.Contains(t, retry.Messages[len(retry.Messages)-1].Content, "Respond with only the JSON object")
}

func bookingScript(h *harness, after ...llm.Step) {
	h.model.
		On(string(graph.MainAgent),
			llm.CallTool("m1", ToAppointmentAgent, map[string]string{"request": "book a viewing tomorrow at 3pm"}),
		).
		On(string(graph.AppointmentAgent),
			append([]llm.Step{llm.CallTool("a1", tools.CreateEvent, viewing)}, after...)...,
		)
}

func TestAppointment_InterruptsBeforeSensitiveTool(t *testing.T) {
	h := newHarness(t)
	bookingScript(h)

	res := h.run(t, graph.UserInput("Book me a viewing tomorrow at 3pm, buyer@example.com"))
	require.Equal(t, graph.StatusInterrupted, res.Status)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, graph.AppointmentTools, res.Interrupt.Node)
	assert.Equal(t, "a1", res.Interrupt.CallID)
	assert.Equal(t, tools.CreateEvent, res.Interrupt.Tool)
	assert.Contains(t, res.Interrupt.Description, "Viewing: 1208 Willow Bend Dr")
	assert.Contains(t, res.Interrupt.Description, "buyer@example.com")
	assert.Equal(t, 0, h.cal.Count(), "nothing booked before approval")

	st := h.state(t)
	assert.True(t, st.Suspended())
	assert.Equal(t, EnteringAck, toolMessages(st.Messages)["m1"])
}

func TestAppointment_ApproveExecutesOnce(t *testing.T) {
	h := newHarness(t)
	bookingScript(h, llm.Reply("You're booked for 3pm tomorrow."))

	h.run(t, graph.UserInput("Book me a viewing tomorrow at 3pm"))
	res := h.run(t, graph.ApprovalInput(" YES "))

	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, "You're booked for 3pm tomorrow.", res.Reply)
	assert.Equal(t, 1, h.cal.Count())
	assert.True(t, strings.HasPrefix(toolMessages(res.Messages)["a1"], "Event created:"))
	assert.False(t, h.state(t).Suspended())
}

func TestAppointment_RejectRecordsDenial(t *testing.T) {
	h := newHarness(t)
	bookingScript(h, llm.Reply("No problem, which day works better?"))

	h.run(t, graph.UserInput("Book me a viewing tomorrow at 3pm"))
	res := h.run(t, graph.ApprovalInput("wrong day"))

	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, 0, h.cal.Count())
	assert.Equal(t, tools.DeniedMessage("wrong day"), toolMessages(res.Messages)["a1"])

	req := h.model.RequestsFor(string(graph.AppointmentAgent))[1]
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, dialog.RoleTool, last.Role)
	assert.Contains(t, last.Content, "Reasoning: 'wrong day'")
}

func TestAppointment_ApprovedCallSurvivesModelFailure(t *testing.T) {
	h := newHarness(t)
	bookingScript(h, llm.Fail(errors.New("model 503")))

	h.run(t, graph.UserInput("Book me a viewing tomorrow at 3pm"))
	_, err := h.engine.Run(context.Background(), "t1", graph.ApprovalInput("yes"))
	var ne *graph.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, graph.AppointmentAgent, ne.Node)
	assert.Equal(t, 1, h.cal.Count())

	st := h.state(t)
	assert.False(t, st.Suspended())
	assert.True(t, strings.HasPrefix(toolMessages(st.Messages)["a1"], "Event created:"))

	_, err = h.engine.Run(context.Background(), "t1", graph.ApprovalInput("yes"))
	assert.ErrorIs(t, err, graph.ErrNoPendingApproval)

	h.model.On(string(graph.MainAgent), llm.Reply("It's on your calendar."))
	res := h.run(t, graph.UserInput("wrong day actually"))
	assert.Equal(t, "It's on your calendar.", res.Reply)
	for _, m := range h.state(t).Messages {
		assert.NotEqual(t, tools.DeniedMessage("wrong day actually"), m.Content)
	}
	assert.Equal(t, 1, h.cal.Count())
}

func TestAppointment_RejectKeepsRecordedOutcome(t *testing.T) {
	h := newHarness(t)
	bookingScript(h, llm.Fail(errors.New("model 503")), llm.Reply("Noted."))

	h.run(t, graph.UserInput("Book me a viewing tomorrow at 3pm"))
	suspended := h.state(t)
	_, err := h.engine.Run(context.Background(), "t1", graph.ApprovalInput("yes"))
	require.Error(t, err)
	require.Equal(t, 1, h.cal.Count())

	// An older checkpoint still shows the call pending.
	require.NoError(t, h.cp.Save(context.Background(), "t1", suspended))
	res := h.run(t, graph.ApprovalInput("never mind"))

	assert.Equal(t, graph.StatusCompleted, res.Status)
	result := toolMessages(res.Messages)["a1"]
	assert.True(t, strings.HasPrefix(result, "Event created:"), result)
	assert.NotEqual(t, tools.DeniedMessage("never mind"), result)
	assert.Equal(t, 1, h.cal.Count())
}

func TestAppointment_RejectStillRunsSafeCalls(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent), llm.CallTool("m1", ToAppointmentAgent, map[string]string{"request": "book"})).
		On(string(graph.AppointmentAgent),
			llm.CallTools(
				llm.ToolCallSpec{ID: "s1", Name: tools.ListEvents, Args: map[string]string{}},
				llm.ToolCallSpec{ID: "a1", Name: tools.CreateEvent, Args: viewing},
			),
			llm.Reply("Understood."),
		)

	res := h.run(t, graph.UserInput("book it"))
	require.Equal(t, graph.StatusInterrupted, res.Status)
	require.Len(t, res.Interrupt.Calls, 1)
	assert.Equal(t, "a1", res.Interrupt.CallID)

	res = h.run(t, graph.ApprovalInput("no thanks"))
	results := toolMessages(res.Messages)
	assert.True(t, strings.HasPrefix(results["s1"], "No events"), results["s1"])
	assert.Equal(t, tools.DeniedMessage("no thanks"), results["a1"])
	assert.Equal(t, 0, h.cal.Count())
}

func TestAppointment_SafeToolsNeverPause(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent), llm.CallTool("m1", ToAppointmentAgent, map[string]string{"request": "am I free?"})).
		On(string(graph.AppointmentAgent),
			llm.CallTool("s1", tools.IsAvailableForMeeting, map[string]string{
				"start_time": "2026-03-03T15:00:00Z",
				"end_time":   "2026-03-03T16:00:00Z",
			}),
			llm.Reply("You're free then."),
		)

	res := h.run(t, graph.UserInput("Am I free tomorrow at 3?"))
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Nil(t, res.Interrupt)
	assert.True(t, strings.HasPrefix(toolMessages(res.Messages)["s1"], "Available"))
}

func TestAppointment_ToolErrorFedBack(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent), llm.CallTool("m1", ToAppointmentAgent, map[string]string{"request": "cancel"})).
		On(string(graph.AppointmentAgent),
			llm.CallTool("a1", tools.DeleteEvent, map[string]string{"event_id": "missing"}),
			llm.Reply("I couldn't find that appointment."),
		)

	h.run(t, graph.UserInput("cancel my viewing"))
	res := h.run(t, graph.ApprovalInput("yes"))
	assert.Equal(t, graph.StatusCompleted, res.Status)
	out := toolMessages(res.Messages)["a1"]
	assert.True(t, strings.HasPrefix(out, "Error:"), out)
	assert.True(t, strings.HasSuffix(out, "please fix your mistakes."))
}

func TestAppointment_ApprovalExpires(t *testing.T) {
	h := newHarness(t)
	bookingScript(h)

	h.run(t, graph.UserInput("Book me a viewing"))
	h.now = h.now.Add(2 * time.Hour)

	_, err := h.engine.Run(context.Background(), "t1", graph.ApprovalInput("yes"))
	assert.True(t, errors.Is(err, graph.ErrApprovalExpired))
	assert.Equal(t, 0, h.cal.Count())
	assert.Equal(t, 0, h.cp.Len())
}

func TestAppointment_ConfirmationBySMS(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent), llm.CallTool("m1", ToAppointmentAgent, map[string]string{"request": "confirm"})).
		On(string(graph.AppointmentAgent),
			llm.CallTool("c1", tools.SendConfirmation, map[string]string{"message": "Viewing confirmed for 3pm."}),
			llm.Reply("I've texted you a confirmation."),
		)

	ctx := tools.WithCaller(context.Background(), tools.Caller{Channel: "sms", UserID: "+15125550100"})
	res, err := h.engine.Run(ctx, "t1", graph.UserInput("send me a confirmation"))
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, []sms.Sent{{To: "+15125550100", Body: "Viewing confirmed for 3pm."}}, h.texts.Messages())

	req := h.model.RequestsFor(string(graph.AppointmentAgent))[0]
	assert.Contains(t, req.System, "over sms")
}

func TestLeaveSpecializedAgent(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent),
			llm.CallTool("m1", ToAppointmentAgent, map[string]string{"request": "show appointments"}),
			llm.Reply("Anything else I can help with?"),
		).
		On(string(graph.AppointmentAgent),
			llm.CallTools(
				llm.ToolCallSpec{ID: "e1", Name: CompleteOrEscalate, Args: map[string]any{"cancel": true, "reason": "User wants to search instead."}},
				llm.ToolCallSpec{ID: "a1", Name: tools.CreateEvent, Args: viewing},
			),
		)

	res := h.run(t, graph.UserInput("never mind, let's look at houses"))
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, "Anything else I can help with?", res.Reply)

	results := toolMessages(res.Messages)
	assert.Equal(t, LeavingAck, results["e1"])
	assert.Equal(t, skippedAck, results["a1"])
	assert.Equal(t, 0, h.cal.Count())
}

func TestMainAgent_UnknownToolIsRoutingError(t *testing.T) {
	h := newHarness(t)
	h.model.On(string(graph.MainAgent),
		llm.CallTool("m1", "ToMortgageAgent", map[string]string{}),
		llm.Reply("Sorry about that. How can I help?"),
	)

	_, err := h.engine.Run(context.Background(), "t1", graph.UserInput("mortgage rates?"))
	var re *graph.RoutingError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "ToMortgageAgent", re.Tool)
	assert.Equal(t, 0, h.cp.Len(), "failed turn is not persisted")

	res := h.run(t, graph.UserInput("hello?"))
	assert.Equal(t, "Sorry about that. How can I help?", res.Reply)
}

func TestMainAgent_DegenerateRetry(t *testing.T) {
	h := newHarness(t)
	h.model.On(string(graph.MainAgent), llm.Reply(""), llm.Reply("  "), llm.Reply("Hello there!"))

	res := h.run(t, graph.UserInput("hi"))
	assert.Equal(t, "Hello there!", res.Reply)

	reqs := h.model.RequestsFor(string(graph.MainAgent))
	require.Len(t, reqs, 3)
	last := reqs[2].Messages[len(reqs[2].Messages)-1]
	assert.Equal(t, graph.DegenerateNudge, last.Content)

	st := h.state(t)
	require.Len(t, st.Messages, 2, "nudges are not persisted")
}

func TestAppointmentAgent_RetryKeepsSingleAck(t *testing.T) {
	h := newHarness(t)
	h.model.
		On(string(graph.MainAgent), llm.CallTool("m1", ToAppointmentAgent, map[string]string{"request": "help"})).
		On(string(graph.AppointmentAgent), llm.Reply(""), llm.Reply("Sure, what would you like to book?"))

	res := h.run(t, graph.UserInput("I want to book something"))
	assert.Equal(t, "Sure, what would you like to book?", res.Reply)

	acks := 0
	for _, m := range h.state(t).Messages {
		if m.Role == dialog.RoleTool && m.ToolCallID == "m1" {
			acks++
		}
	}
	assert.Equal(t, 1, acks)
}

func TestModelErrorFailsTurn(t *testing.T) {
	h := newHarness(t)
	h.model.On(string(graph.MainAgent), llm.Fail(errors.New("upstream 503")))

	_, err := h.engine.Run(context.Background(), "t1", graph.UserInput("hi"))
	var ne *graph.NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, graph.MainAgent, ne.Node)
}

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		newS    bool
		city    string
		wantErr bool
	}{
		{name: "envelope", in: `{"new_search": true, "search_criteria": {"city": "Austin"}}`, newS: true, city: "Austin"},
		{name: "bare object", in: `{"city": "Austin", "min_bedroom": 2}`, city: "Austin"},
		{name: "code fence", in: "```json\n{\"search_criteria\": {\"city\": \"Austin\"}}\n```", city: "Austin"},
		{name: "quoted numbers", in: `{"search_criteria": {"city": "Austin", "min_bedrooms": "3", "max_price": "450000"}}`, city: "Austin"},
		{name: "trailing comma", in: `{"search_criteria": {"city": "Austin",}}`, city: "Austin"},
		{name: "empty", in: "  ", wantErr: true},
		{name: "inverted price", in: `{"search_criteria": {"min_price": 5, "max_price": 1}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExtraction(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.newS, got.NewSearch)
			require.NotNil(t, got.Criteria.City)
			assert.Equal(t, tt.city, *got.Criteria.City)
		})
	}
}
