package mission

// WalkOutline visits every section depth-first, parents before children.
// The visitor receives the section and its depth (top level = 1).
func WalkOutline(sections []*ReportSection, visit func(section *ReportSection, depth int)) {
	var walk func(nodes []*ReportSection, depth int)
	walk = func(nodes []*ReportSection, depth int) {
		for _, node := range nodes {
			visit(node, depth)
			walk(node.Subsections, depth+1)
		}
	}
	walk(sections, 1)
}

// FindSection returns the section with the given id, or nil.
func FindSection(sections []*ReportSection, sectionID string) *ReportSection {
	var found *ReportSection
	WalkOutline(sections, func(section *ReportSection, depth int) {
		if found == nil && section.SectionID == sectionID {
			found = section
		}
	})
	return found
}

// CountSections returns the total number of sections in the outline.
func CountSections(sections []*ReportSection) int {
	count := 0
	WalkOutline(sections, func(*ReportSection, int) { count++ })
	return count
}

// OutlineDepth returns the deepest level present (0 for an empty outline).
func OutlineDepth(sections []*ReportSection) int {
	maxDepth := 0
	WalkOutline(sections, func(_ *ReportSection, depth int) {
		if depth > maxDepth {
			maxDepth = depth
		}
	})
	return maxDepth
}

// HasResearchBased reports whether any section uses the research_based
// strategy.
func HasResearchBased(sections []*ReportSection) bool {
	has := false
	WalkOutline(sections, func(section *ReportSection, _ int) {
		if section.ResearchStrategy == StrategyResearchBased {
			has = true
		}
	})
	return has
}

// AssignedNoteIDs returns the set of note ids referenced by any section.
func AssignedNoteIDs(sections []*ReportSection) map[string]bool {
	assigned := make(map[string]bool)
	WalkOutline(sections, func(section *ReportSection, _ int) {
		for _, id := range section.AssociatedNoteIDs {
			assigned[id] = true
		}
	})
	return assigned
}

// CloneSection deep-copies a section subtree.
func CloneSection(section *ReportSection) *ReportSection {
	if section == nil {
		return nil
	}
	clone := &ReportSection{
		SectionID:        section.SectionID,
		Title:            section.Title,
		Description:      section.Description,
		ResearchStrategy: section.ResearchStrategy,
	}
	if len(section.AssociatedNoteIDs) > 0 {
		clone.AssociatedNoteIDs = append([]string(nil), section.AssociatedNoteIDs...)
	}
	for _, sub := range section.Subsections {
		clone.Subsections = append(clone.Subsections, CloneSection(sub))
	}
	return clone
}

// CloneOutline deep-copies an outline.
func CloneOutline(sections []*ReportSection) []*ReportSection {
	if sections == nil {
		return nil
	}
	out := make([]*ReportSection, 0, len(sections))
	for _, section := range sections {
		out = append(out, CloneSection(section))
	}
	return out
}

// ClonePlan deep-copies a plan.
func ClonePlan(plan *Plan) *Plan {
	if plan == nil {
		return nil
	}
	return &Plan{
		MissionGoal:   plan.MissionGoal,
		ReportOutline: CloneOutline(plan.ReportOutline),
	}
}
