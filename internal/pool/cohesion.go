package pool

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// expandCases groups the matched questions by case and pulls in every other
// member of those cases. Each case becomes one group, placed where the case
// is first encountered and ordered by position inside the case; questions
// without a case form groups of one. Members are restricted to examID when
// it is set, so a case never leaks questions of another exam.
func (e *Engine) expandCases(ctx context.Context, matched []uuid.UUID, examID uuid.NullUUID) ([][]uuid.UUID, error) {
	refs, err := e.store.QuestionCaseRefs(ctx, matched)
	if err != nil {
		return nil, fmt.Errorf("failed to load case references: %w", err)
	}

	caseOf := make(map[uuid.UUID]uuid.UUID, len(refs))
	for _, r := range refs {
		caseOf[r.QuestionID] = r.CaseID
	}

	var caseIDs []uuid.UUID
	seenCase := make(map[uuid.UUID]bool)
	for _, id := range matched {
		c, ok := caseOf[id]
		if ok && !seenCase[c] {
			seenCase[c] = true
			caseIDs = append(caseIDs, c)
		}
	}

	members := make(map[uuid.UUID][]uuid.UUID, len(caseIDs))
	if len(caseIDs) > 0 {
		rows, err := e.store.CaseMembers(ctx, caseIDs, examID)
		if err != nil {
			return nil, fmt.Errorf("failed to load case members: %w", err)
		}
		for _, r := range rows {
			members[r.CaseID] = append(members[r.CaseID], r.QuestionID)
		}
	}

	groups := make([][]uuid.UUID, 0, len(matched))
	emitted := make(map[uuid.UUID]bool, len(caseIDs))
	for _, id := range matched {
		c, ok := caseOf[id]
		if !ok {
			groups = append(groups, []uuid.UUID{id})
			continue
		}
		if emitted[c] {
			continue
		}
		emitted[c] = true
		group := members[c]
		if len(group) == 0 {
			group = []uuid.UUID{id}
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// applyLimit flattens groups, stopping once limit questions are collected.
// A group is never split: the one crossing the limit is kept whole, so a
// case-cohesive result may exceed limit. A limit of 0 keeps everything.
func applyLimit(groups [][]uuid.UUID, limit int) []uuid.UUID {
	var out []uuid.UUID
	for _, g := range groups {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, g...)
	}
	return out
}
