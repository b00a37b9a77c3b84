package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

const maxHistoryMessages = 6

// Enrich rewrites a focused query using recent conversation context and the
// current date. Web and document modes use different templates; a failed
// call keeps the focused query unchanged.
func (p *Pipeline) Enrich(ctx context.Context, focusedQuery string, history []llms.Message, mode Mode) string {
	now := p.now()

	var b strings.Builder
	if len(history) > 0 {
		start := len(history) - maxHistoryMessages
		if start < 0 {
			start = 0
		}
		b.WriteString("Recent conversation:\n")
		for _, msg := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	var template string
	switch mode {
	case ModeWeb:
		template = `Rewrite the search query for a web search engine. Add terms that
improve recency and specificity. Today's date is %s (year %d); prefer
current information when the topic is time-sensitive.`
	default:
		template = `Rewrite the search query for semantic retrieval over a private
document collection. Favor topical and conceptual phrasing over
operators. Today's date is %s (year %d).`
	}

	fmt.Fprintf(&b, template, now.Format("2006-01-02"), now.Year())
	fmt.Fprintf(&b, "\n\nQuery: %s\n\nRespond with only the rewritten query.", focusedQuery)

	resp, _, err := p.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: b.String()},
	}, model.RoleQueryPreparation, nil)
	if err != nil {
		return focusedQuery
	}

	enriched := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content), `"`))
	if enriched == "" {
		return focusedQuery
	}
	// Guard against the model answering with prose instead of a query.
	if len(enriched) > 4*len(focusedQuery)+200 {
		return focusedQuery
	}
	return enriched
}
