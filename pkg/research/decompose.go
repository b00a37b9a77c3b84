package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/model"
)

// Decompose breaks a query into at most maxQueries focused sub-queries via
// the LLM, falling back to the rule-based splitter when the call fails or
// returns malformed JSON.
func (p *Pipeline) Decompose(ctx context.Context, query string, maxQueries int) []string {
	if maxQueries < 1 {
		maxQueries = 1
	}

	prompt := fmt.Sprintf(`Break this search query into at most %d focused sub-queries.
Each sub-query should target one distinct aspect. If the query is already
focused, return it unchanged as the only entry.

Query: %s

Respond with JSON: {"queries": ["..."]}`, maxQueries, query)

	resp, _, err := p.dispatcher.Dispatch(ctx, []llms.Message{
		{Role: "user", Content: prompt},
	}, model.RoleQueryPreparation, nil)
	if err != nil {
		return SplitQuery(query)
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := model.ExtractJSON(resp.Content, &parsed); err != nil {
		return SplitQuery(query)
	}

	var out []string
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
		if len(out) == maxQueries {
			break
		}
	}
	if len(out) == 0 {
		return SplitQuery(query)
	}
	return out
}

// activitiesPattern matches "<prefix> activities in <place>" segments.
var activitiesPattern = regexp.MustCompile(`(?i)^(.*\bactivities)\s+in\s+(.+)$`)

// SplitQuery is the rule-based decomposition fallback. It handles three
// patterns, in order:
//  1. "<x> activities in A and [<x> activities] in B" - one query per
//     place, broadened to "activities and attractions".
//  2. "A and B" where both halves are substantive.
//  3. "A, B" where both halves are substantive.
//
// Anything else returns the query unchanged as the sole entry.
func SplitQuery(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return []string{query}
	}

	if parts, ok := splitActivities(query); ok {
		return parts
	}

	if left, right, ok := splitOnce(query, " and "); ok && substantive(left) && substantive(right) {
		return []string{left, right}
	}

	if left, right, ok := splitOnce(query, ","); ok && substantive(left) && substantive(right) {
		return []string{left, right}
	}

	return []string{query}
}

func splitActivities(query string) ([]string, bool) {
	left, right, ok := splitOnce(query, " and ")
	if !ok {
		return nil, false
	}

	leftMatch := activitiesPattern.FindStringSubmatch(left)
	if leftMatch == nil {
		return nil, false
	}
	prefix := leftMatch[1]

	var places []string
	places = append(places, leftMatch[2])

	if rightMatch := activitiesPattern.FindStringSubmatch(right); rightMatch != nil {
		places = append(places, rightMatch[2])
	} else if rest, found := strings.CutPrefix(strings.TrimSpace(right), "in "); found {
		places = append(places, rest)
	} else {
		return nil, false
	}

	out := make([]string, 0, len(places))
	for _, place := range places {
		out = append(out, fmt.Sprintf("%s and attractions in %s", prefix, strings.TrimSpace(place)))
	}
	return out, true
}

func splitOnce(query, sep string) (string, string, bool) {
	idx := strings.Index(strings.ToLower(query), sep)
	if idx < 0 {
		return "", "", false
	}
	left := strings.TrimSpace(query[:idx])
	right := strings.TrimSpace(query[idx+len(sep):])
	if left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}

// substantive requires at least three words so fragments like "cats" or
// "more" do not become standalone queries.
func substantive(s string) bool {
	return len(strings.Fields(s)) >= 3
}
