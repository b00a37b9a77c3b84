package model

import "sync"

// ModelUsage holds cumulative usage for one model key.
type ModelUsage struct {
	Calls             int     `json:"calls"`
	PromptTokens      int     `json:"prompt_tokens"`
	CompletionTokens  int     `json:"completion_tokens"`
	NativeTotalTokens int     `json:"native_total_tokens"`
	Cost              float64 `json:"cost"`
}

// CostTracker accumulates usage totals by model key. It decorates every
// dispatch; callers read snapshots, never live maps.
type CostTracker struct {
	mu     sync.Mutex
	usage  map[string]*ModelUsage
	totals ModelUsage
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{
		usage: make(map[string]*ModelUsage),
	}
}

// Record adds one dispatch's details to the per-model and global totals.
func (t *CostTracker) Record(details *Details) {
	if details == nil {
		return
	}
	key := details.Provider + "/" + details.ModelName

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.usage[key]
	if !ok {
		entry = &ModelUsage{}
		t.usage[key] = entry
	}
	for _, u := range []*ModelUsage{entry, &t.totals} {
		u.Calls++
		u.PromptTokens += details.PromptTokens
		u.CompletionTokens += details.CompletionTokens
		u.NativeTotalTokens += details.NativeTotalTokens
		u.Cost += details.Cost
	}
}

// Totals returns a snapshot of the global totals.
func (t *CostTracker) Totals() ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// ByModel returns a snapshot of the per-model totals.
func (t *CostTracker) ByModel() map[string]ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ModelUsage, len(t.usage))
	for key, entry := range t.usage {
		out[key] = *entry
	}
	return out
}
