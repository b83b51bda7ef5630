package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/openhouse/internal/criteria"
	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/graph"
	"github.com/zulandar/openhouse/internal/llm"
	"github.com/zulandar/openhouse/internal/property"
)

// ExtractionFailedReply is recorded when the criteria could not be
// understood; the previous criteria stay in effect.
const ExtractionFailedReply = "Sorry, I couldn't quite work out what you're looking for. Could you tell me the city and, if you have one, your budget or the number of bedrooms?"

// Extraction is the criteria extractor's decoded answer.
type Extraction struct {
	NewSearch bool
	Criteria  criteria.SearchCriteria
}

type extractionEnvelope struct {
	NewSearch      bool            `json:"new_search"`
	SearchCriteria json.RawMessage `json:"search_criteria"`
}

// ParseExtraction decodes the extractor output. Output that is not valid
// JSON is passed through jsonrepair first. A bare criteria object without
// the search_criteria envelope is accepted too.
func ParseExtraction(content string) (Extraction, error) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Extraction{}, fmt.Errorf("empty output")
	}
	if !json.Valid([]byte(raw)) {
		repaired, err := jsonrepair.JSONRepair(raw)
		if err != nil {
			return Extraction{}, fmt.Errorf("repair json: %w", err)
		}
		raw = repaired
	}

	var env extractionEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Extraction{}, fmt.Errorf("decode: %w", err)
	}
	body := env.SearchCriteria
	if len(body) == 0 || string(body) == "null" {
		body = json.RawMessage(raw)
	}
	c, err := criteria.Parse(body)
	if err != nil {
		return Extraction{}, err
	}
	return Extraction{NewSearch: env.NewSearch, Criteria: c}, nil
}

func (a *agents) searchCriteriaAgent(ctx context.Context, st dialog.State) (graph.Update, error) {
	acks := acknowledge(st, ToSearchAgent, EnteringAck, ignoredAck)
	logger := log.With().Str("thread", graph.ThreadID(ctx)).Str("node", string(graph.SearchCriteriaAgent)).Logger()

	current, err := json.Marshal(st.Criteria)
	if err != nil {
		return graph.Update{}, fmt.Errorf("agent: search: encode criteria: %w", err)
	}
	query := ""
	if u, ok := st.LastUser(); ok {
		query = u.Content
	}
	msgs := []dialog.Message{
		dialog.User("Current Criteria: " + string(current)),
		dialog.User("User Query: " + query),
	}
	if req := handoffRequest(st); req != "" && req != query {
		msgs = append(msgs, dialog.User("Additional context: "+req))
	}

	var lastErr error
	for attempt := 1; attempt <= a.MaxExtractionAttempts; attempt++ {
		c, err := a.Model.Complete(ctx, llm.Request{
			Agent:    string(graph.SearchCriteriaAgent),
			System:   extractionPrompt,
			Messages: msgs,
			JSONMode: true,
		})
		if err != nil {
			return graph.Update{}, fmt.Errorf("agent: search: %w", err)
		}
		ex, err := ParseExtraction(c.Content)
		if err == nil {
			updated := st.Criteria.Merge(ex.Criteria)
			if ex.NewSearch {
				updated = ex.Criteria
			}
			logger.Info().Bool("new_search", ex.NewSearch).Str("criteria", updated.String()).Msg("agent: criteria updated")
			return graph.Update{
				Messages: append(acks, dialog.Assistant(summarize(updated, ex.NewSearch))),
				Criteria: &updated,
			}, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Msg("agent: unusable criteria output")
		msgs = append(msgs,
			dialog.Assistant(c.Content),
			dialog.User(fmt.Sprintf("That output could not be used (%v). Respond with only the JSON object.", err)),
		)
	}

	logger.Warn().Err(lastErr).Msg("agent: keeping previous criteria")
	return graph.Update{Messages: append(acks, dialog.Assistant(ExtractionFailedReply))}, nil
}

func handoffRequest(st dialog.State) string {
	last, ok := st.Last()
	if !ok {
		return ""
	}
	for _, tc := range last.ToolCalls {
		if tc.Name != ToSearchAgent {
			continue
		}
		var args struct {
			Request string `json:"request"`
		}
		if json.Unmarshal(tc.Arguments, &args) == nil {
			return strings.TrimSpace(args.Request)
		}
	}
	return ""
}

func summarize(c criteria.SearchCriteria, newSearch bool) string {
	var b strings.Builder
	if newSearch {
		b.WriteString("I've started a new search based on your request. Here's what I understood:\n")
	} else {
		b.WriteString("I've updated your search criteria based on your request. Here's what I understood:\n")
	}
	lines := c.Lines()
	if len(lines) == 0 {
		b.WriteString("- No specific criteria yet\n")
	}
	for _, l := range lines {
		b.WriteString("- " + l + "\n")
	}
	b.WriteString("\nIs there anything else you'd like to modify or add to your search?")
	return b.String()
}

func (a *agents) queryDatabase(ctx context.Context, st dialog.State) (graph.Update, error) {
	if st.Criteria.IsZero() {
		return graph.Update{}, nil
	}
	props, err := a.Properties.Search(ctx, st.Criteria, 0)
	if err != nil {
		log.Error().Err(err).Str("thread", graph.ThreadID(ctx)).Msg("agent: property search failed")
		return graph.Update{Messages: []dialog.Message{
			dialog.Assistant("I couldn't reach the listings database just now, so I have no search results yet."),
		}}, nil
	}
	return graph.Update{Messages: []dialog.Message{
		dialog.Assistant(property.Format(st.Criteria, props)),
	}}, nil
}
