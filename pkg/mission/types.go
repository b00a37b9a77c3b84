// Package mission holds the authoritative state of a research mission and
// the context store that owns it. Consumers hold mission ids and borrow
// snapshots; all mutation goes through the store, which serializes writers
// per mission.
package mission

import (
	"time"
)

// Status is the lifecycle state of a mission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPlanning  Status = "planning"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Strategy determines how a section's content is produced.
type Strategy string

const (
	StrategyResearchBased             Strategy = "research_based"
	StrategyContentBased              Strategy = "content_based"
	StrategySynthesizeFromSubsections Strategy = "synthesize_from_subsections"
	StrategySynthesizeFromOther       Strategy = "synthesize_from_other_sections"
)

// SourceType classifies where a note came from.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceWeb      SourceType = "web"
	SourceInternal SourceType = "internal"
)

// ReportSection is a node in the report outline tree. Section ids are unique
// across the outline.
type ReportSection struct {
	SectionID         string           `json:"section_id"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	ResearchStrategy  Strategy         `json:"research_strategy"`
	Subsections       []*ReportSection `json:"subsections,omitempty"`
	AssociatedNoteIDs []string         `json:"associated_note_ids,omitempty"`
}

// Plan is a mission's goal and report outline. Plans are replaced atomically
// when revised; readers never observe a partial merge.
type Plan struct {
	MissionGoal   string           `json:"mission_goal"`
	ReportOutline []*ReportSection `json:"report_outline"`
}

// Note is a citable fragment attributed to a source.
type Note struct {
	NoteID         string         `json:"note_id"`
	Content        string         `json:"content"`
	SourceType     SourceType     `json:"source_type"`
	SourceID       string         `json:"source_id"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Stats holds cumulative mission counters. Deltas only; counters never
// decrease within a mission.
type Stats struct {
	TotalCost        float64 `json:"total_cost"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	NativeTokens     int     `json:"native_tokens"`
	WebSearches      int     `json:"web_searches"`
	DocumentSearches int     `json:"document_searches"`
}

// Add applies a delta to the counters.
func (s *Stats) Add(delta Stats) {
	s.TotalCost += delta.TotalCost
	s.PromptTokens += delta.PromptTokens
	s.CompletionTokens += delta.CompletionTokens
	s.NativeTokens += delta.NativeTokens
	s.WebSearches += delta.WebSearches
	s.DocumentSearches += delta.DocumentSearches
}

// Goal is a short objective recorded by an agent.
type Goal struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AgentName string    `json:"agent_name"`
	Timestamp time.Time `json:"timestamp"`
}

// Thought is a short observation kept in the bounded thought pad.
type Thought struct {
	Text      string    `json:"text"`
	AgentName string    `json:"agent_name"`
	Timestamp time.Time `json:"timestamp"`
}

// LogStatus classifies an execution log entry.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailure LogStatus = "failure"
	LogWarning LogStatus = "warning"
	LogRunning LogStatus = "running"
)

// LogEntry is one structured execution log record.
type LogEntry struct {
	Timestamp     time.Time      `json:"timestamp"`
	AgentName     string         `json:"agent_name"`
	Action        string         `json:"action"`
	Status        LogStatus      `json:"status"`
	InputSummary  string         `json:"input_summary,omitempty"`
	OutputSummary string         `json:"output_summary,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ModelDetails  map[string]any `json:"model_details,omitempty"`
	Cost          float64        `json:"cost,omitempty"`
	Tokens        int            `json:"tokens,omitempty"`
}

// Mission is the complete state of one research task.
type Mission struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	UserRequest   string            `json:"user_request"`
	Status        Status            `json:"status"`
	Plan          *Plan             `json:"plan,omitempty"`
	Notes         []*Note           `json:"notes,omitempty"`
	ReportContent map[string]string `json:"report_content,omitempty"`
	Stats         Stats             `json:"stats"`
	Scratchpad    string            `json:"scratchpad,omitempty"`
	Goals         []*Goal           `json:"goals,omitempty"`
	Thoughts      []*Thought        `json:"thoughts,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	ExecutionLog  []*LogEntry       `json:"execution_log,omitempty"`
	FinalReport   string            `json:"final_report,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
