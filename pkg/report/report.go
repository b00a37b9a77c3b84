// Package report assembles the final report: generated title, numbered
// sections with headings, citation placeholders resolved to reference
// numbers, a References section in order of first appearance, and a stats
// header.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

const snippetLimit = 1500

// citationPattern matches [id] or [id1, id2] placeholders where each id is
// an 8-hex doc id or note_<8-hex>. Plain numeric citations like [1] never
// match, which keeps resolution idempotent on already-numbered text.
var (
	citationPattern = regexp.MustCompile(`\[((?:note_)?[0-9a-f]{8}(?:\s*,\s*(?:note_)?[0-9a-f]{8})*)\]`)
	titleArtifact   = regexp.MustCompile(`^(?:\*\*[^*]+:\*\*|Title:)\s*`)
)

// Dispatcher is the model dispatch surface the generator needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, messages []llms.Message, role model.Role, opts *model.Options) (*llms.Response, *model.Details, error)
}

// Reference is one resolved entry of the References section.
type Reference struct {
	Number   int
	RefID    string
	Type     mission.SourceType
	Metadata map[string]any
}

// Generator builds the final report for a mission.
type Generator struct {
	dispatcher Dispatcher
	store      *mission.ContextStore
	logger     *slog.Logger
}

func NewGenerator(dispatcher Dispatcher, store *mission.ContextStore, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{dispatcher: dispatcher, store: store, logger: logger}
}

// Finalize assembles the final report and records it on the mission.
func (g *Generator) Finalize(ctx context.Context, missionID string) (string, error) {
	snap, err := g.store.Get(missionID)
	if err != nil {
		return "", err
	}
	if snap.Plan == nil {
		return "", fmt.Errorf("mission %s has no plan", missionID)
	}

	title := g.GenerateTitle(ctx, snap)
	body := AssembleDraft(snap.Plan.ReportOutline, snap.ReportContent)
	resolved, refs := g.ResolveCitations(body, sourceCatalog(snap))

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString(statsHeader(snap.Stats))
	b.WriteString("\n")
	b.WriteString(resolved)
	if len(refs) > 0 {
		b.WriteString("\n\n## References\n\n")
		for _, ref := range refs {
			fmt.Fprintf(&b, "%d. %s\n", ref.Number, FormatReference(ref))
		}
	}

	report := strings.TrimSpace(b.String()) + "\n"
	if err := g.store.SetFinalReport(missionID, report); err != nil {
		return "", err
	}
	return report, nil
}

// GenerateTitle asks the writing model for a 5-15 word title built from the
// user request, pads, and the first and last section snippets. Falls back
// to the user request on failure.
func (g *Generator) GenerateTitle(ctx context.Context, snap *mission.Mission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a report title of 5 to 15 words. Respond with only the title.\n\nResearch request: %s\n", snap.UserRequest)

	for _, goal := range snap.Goals {
		fmt.Fprintf(&b, "Goal: %s\n", goal.Text)
	}
	for _, thought := range snap.Thoughts {
		fmt.Fprintf(&b, "Thought: %s\n", thought.Text)
	}

	if snap.Plan != nil && len(snap.Plan.ReportOutline) > 0 {
		outline := snap.Plan.ReportOutline
		first := snap.ReportContent[outline[0].SectionID]
		last := snap.ReportContent[outline[len(outline)-1].SectionID]
		if first != "" {
			fmt.Fprintf(&b, "\nOpening section:\n%s\n", clip(first, snippetLimit))
		}
		if last != "" && last != first {
			fmt.Fprintf(&b, "\nClosing section:\n%s\n", clip(last, snippetLimit))
		}
	}

	resp, _, err := g.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: b.String()},
	}, model.RoleWriting, nil)
	if err != nil {
		g.logger.Warn("title generation failed", "error", err)
		return snap.UserRequest
	}

	title := CleanTitle(resp.Content)
	if title == "" {
		return snap.UserRequest
	}
	return title
}

// CleanTitle strips prefix artifacts like "**Title:**" or "Title:" and
// surrounding quotes from a generated title.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	for {
		stripped := titleArtifact.ReplaceAllString(title, "")
		stripped = strings.Trim(stripped, `"'* `)
		if stripped == title {
			break
		}
		title = stripped
	}
	return strings.TrimSpace(title)
}

// AssembleDraft walks the outline depth-first, inserting hierarchical
// numbering and markdown headings whose level equals the section depth.
func AssembleDraft(outline []*mission.ReportSection, content map[string]string) string {
	var b strings.Builder
	var walk func(sections []*mission.ReportSection, prefix string, depth int)
	walk = func(sections []*mission.ReportSection, prefix string, depth int) {
		for i, section := range sections {
			number := fmt.Sprintf("%s%d.", prefix, i+1)
			fmt.Fprintf(&b, "%s %s %s\n\n", strings.Repeat("#", depth), number, section.Title)
			if text := strings.TrimSpace(content[section.SectionID]); text != "" {
				b.WriteString(text)
				b.WriteString("\n\n")
			}
			walk(section.Subsections, number, depth+1)
		}
	}
	walk(outline, "", 1)
	return strings.TrimSpace(b.String())
}

// ResolveCitations replaces known citation placeholders with reference
// numbers assigned in order of first appearance, and returns the reference
// list. Unknown ids stay in place.
func (g *Generator) ResolveCitations(text string, catalog map[string]Reference) (string, []Reference) {
	numbers := make(map[string]int)
	var refs []Reference

	lookup := func(id string) (Reference, bool) {
		refID := id
		if strings.HasPrefix(id, "note_") {
			// A note citation points at the note's source; the catalog maps
			// note ids to the same ref id as direct doc citations.
			ref, ok := catalog[id]
			if !ok {
				return Reference{}, false
			}
			refID = ref.RefID
		}
		ref, ok := catalog[refID]
		return ref, ok
	}

	assign := func(ref Reference) int {
		if n, seen := numbers[ref.RefID]; seen {
			return n
		}
		n := len(refs) + 1
		numbers[ref.RefID] = n
		ref.Number = n
		refs = append(refs, ref)
		return n
	}

	out := citationPattern.ReplaceAllStringFunc(text, func(match string) string {
		inner := strings.Trim(match, "[]")
		ids := strings.Split(inner, ",")

		bracketRefs := make([]Reference, 0, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			ref, ok := lookup(id)
			if !ok {
				g.logger.Warn("unresolved citation id", "id", id)
				return match
			}
			bracketRefs = append(bracketRefs, ref)
		}
		// When several unseen sources share a bracket, they take numbers in
		// ref id order so the numbering never depends on how the model
		// ordered the placeholder.
		sort.Slice(bracketRefs, func(i, j int) bool { return bracketRefs[i].RefID < bracketRefs[j].RefID })

		var nums []int
		for _, ref := range bracketRefs {
			n := assign(ref)
			if len(nums) == 0 || nums[len(nums)-1] != n {
				nums = append(nums, n)
			}
		}
		sort.Ints(nums)

		parts := make([]string, len(nums))
		for i, n := range nums {
			parts[i] = fmt.Sprintf("%d", n)
		}
		return "[" + strings.Join(parts, ",") + "]"
	})
	return out, refs
}

// sourceCatalog builds the citation lookup from the mission's notes: every
// note id and every derived source ref id map to the same Reference so both
// citation forms share one number.
func sourceCatalog(snap *mission.Mission) map[string]Reference {
	catalog := make(map[string]Reference)
	for _, note := range snap.Notes {
		refID := note.RefID()
		if len(refID) != 8 {
			continue
		}
		ref, ok := catalog[refID]
		if !ok {
			ref = Reference{RefID: refID, Type: note.SourceType, Metadata: note.SourceMetadata}
		}
		catalog[refID] = ref
		catalog[note.NoteID] = ref
	}
	return catalog
}

// FormatReference renders one reference entry APA-like per source type,
// with fallbacks when metadata is sparse.
func FormatReference(ref Reference) string {
	get := func(key string) string {
		if v, ok := ref.Metadata[key]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
		return ""
	}

	authors := get("authors")
	year := get("year")
	title := get("title")

	switch ref.Type {
	case mission.SourceDocument:
		journal := get("journal")
		var parts []string
		if authors != "" {
			parts = append(parts, authors+".")
		}
		if year != "" {
			parts = append(parts, "("+year+").")
		}
		if title != "" {
			parts = append(parts, title+".")
		}
		if journal != "" {
			parts = append(parts, "*"+journal+"*.")
		}
		if len(parts) == 0 {
			return fmt.Sprintf("Document %s.", ref.RefID)
		}
		return strings.Join(parts, " ")
	case mission.SourceWeb:
		url := get("url")
		accessed := get("accessed")
		var parts []string
		if authors != "" {
			parts = append(parts, authors+".")
		}
		if year != "" {
			parts = append(parts, "("+year+").")
		}
		if title != "" {
			parts = append(parts, title+".")
		}
		if url != "" {
			entry := "Available at: " + url
			if accessed != "" {
				entry += " (Accessed: " + accessed + ")"
			}
			parts = append(parts, entry+".")
		}
		if len(parts) == 0 {
			return fmt.Sprintf("Web source %s.", ref.RefID)
		}
		return strings.Join(parts, " ")
	default:
		if title != "" {
			return title + "."
		}
		return fmt.Sprintf("Internal source %s.", ref.RefID)
	}
}

// statsHeader renders the mission's cumulative counters. Cost keeps six
// decimals.
func statsHeader(stats mission.Stats) string {
	return fmt.Sprintf(
		"*Cost: $%.6f | Prompt tokens: %d | Completion tokens: %d | Native tokens: %d | Web searches: %d | Document searches: %d*\n",
		stats.TotalCost, stats.PromptTokens, stats.CompletionTokens, stats.NativeTokens, stats.WebSearches, stats.DocumentSearches,
	)
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
