package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
	"github.com/murtaza-nasir/maestro-sub003/pkg/research"
)

// Dispatcher is the model dispatch surface the assistant needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error)
}

// Emitter pushes progress events to the session's connection.
type Emitter interface {
	SendToSession(sessionID string, payload map[string]any)
}

// Answer is one assistant turn: the reply plus the sources that informed
// it.
type Answer struct {
	Content string
	Sources []research.Source
}

// Assistant answers chat turns inside a writing session, grounding them
// with the iterative search pipelines when the session enables them.
type Assistant struct {
	sessions   *Manager
	dispatcher Dispatcher
	web        *research.Pipeline
	documents  *research.Pipeline
	emitter    Emitter
	logger     *slog.Logger
}

func NewAssistant(sessions *Manager, dispatcher Dispatcher, web, documents *research.Pipeline, emitter Emitter, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		sessions:   sessions,
		dispatcher: dispatcher,
		web:        web,
		documents:  documents,
		emitter:    emitter,
		logger:     logger,
	}
}

// Respond produces one assistant reply. Document retrieval runs when the
// session is bound to a document group, web retrieval when web search is
// enabled. Authentication failures come back as a user-visible chat
// message, not an error.
func (a *Assistant) Respond(ctx context.Context, sessionID, userMessage string, history []llms.Message) (*Answer, error) {
	s, err := a.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	var contexts []string
	var sources []research.Source

	if s.DocumentGroupID != "" && a.documents != nil {
		result, err := a.documents.Run(ctx, research.Request{Query: userMessage, History: history})
		if err != nil {
			a.logger.Warn("document retrieval failed", "session_id", sessionID, "error", err)
		} else if result.Context != "" {
			contexts = append(contexts, result.Context)
			sources = append(sources, result.Sources...)
			a.sessions.AddStatsDelta(sessionID, mission.Stats{DocumentSearches: 1})
		}
	}
	if s.UseWebSearch && a.web != nil {
		result, err := a.web.Run(ctx, research.Request{Query: userMessage, History: history})
		if err != nil {
			a.logger.Warn("web retrieval failed", "session_id", sessionID, "error", err)
		} else if result.Context != "" {
			contexts = append(contexts, result.Context)
			sources = append(sources, result.Sources...)
			a.sessions.AddStatsDelta(sessionID, mission.Stats{WebSearches: 1})
		}
	}

	messages := append(append([]llms.Message(nil), history...), llms.Message{
		Role:    "user",
		Content: assistantPrompt(userMessage, contexts),
	})

	resp, details, err := a.dispatcher.Dispatch(ctx, messages, model.RoleWriting, nil)
	if err != nil {
		if errors.Is(err, config.ErrConfigurationRequired) {
			// Surfaced in the chat instead of failing the turn.
			return &Answer{Content: err.Error()}, nil
		}
		return nil, err
	}

	if details != nil {
		a.sessions.AddStatsDelta(sessionID, mission.Stats{
			TotalCost:        details.Cost,
			PromptTokens:     details.PromptTokens,
			CompletionTokens: details.CompletionTokens,
			NativeTokens:     details.NativeTotalTokens,
		})
	}

	answer := &Answer{Content: strings.TrimSpace(resp.Content), Sources: dedupeSources(sources)}
	a.recordReferences(s, answer)
	if a.emitter != nil {
		a.emitter.SendToSession(sessionID, events.SessionPayload(events.KindStatsUpdate, sessionID, nil))
	}
	return answer, nil
}

func assistantPrompt(userMessage string, contexts []string) string {
	if len(contexts) == 0 {
		return userMessage
	}
	var b strings.Builder
	b.WriteString("Use the retrieved context to answer. Cite sources with their [ref_id] placeholders.\n\n")
	for _, c := range contexts {
		b.WriteString(c)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question: %s", userMessage)
	return b.String()
}

// recordReferences attaches the answer's sources to the current draft so
// they survive into the exported document.
func (a *Assistant) recordReferences(s *WritingSession, answer *Answer) {
	if s.CurrentDraftID == "" {
		return
	}
	for _, src := range answer.Sources {
		citation := src.Title
		if src.URL != "" {
			citation = fmt.Sprintf("%s (%s)", src.Title, src.URL)
		}
		a.sessions.AddReference(&Reference{
			DraftID:      s.CurrentDraftID,
			RefID:        src.RefID,
			Kind:         src.Type,
			CitationText: citation,
		})
	}
}

func dedupeSources(sources []research.Source) []research.Source {
	seen := make(map[string]bool, len(sources))
	var out []research.Source
	for _, src := range sources {
		if seen[src.RefID] {
			continue
		}
		seen[src.RefID] = true
		out = append(out, src)
	}
	return out
}
