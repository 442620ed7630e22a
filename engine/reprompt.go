package engine

import (
	"context"

	"github.com/archon-ai/pathways/logger"
	"github.com/archon-ai/pathways/pathway"
)

// RepromptUntil resolves pw repeatedly until accept approves the value, up to
// maxIterations attempts. accept returns the value to keep and whether it
// passes; when no attempt passes, the last accepted-or-raw value is returned.
//
// Custom resolvers use this for bounded re-prompting, e.g. regenerating
// headlines until enough of them fit a length budget.
func RepromptUntil(ctx context.Context, inv pathway.Invoker, pw *pathway.Pathway,
	args map[string]any, maxIterations int, accept func(value any) (any, bool)) (any, error) {

	var last any
	for i := 0; i < maxIterations; i++ {
		value, err := inv.Resolve(ctx, pw, args)
		if err != nil {
			return nil, err
		}
		kept, ok := accept(value)
		if ok {
			return kept, nil
		}
		last = kept
		logger.Debug("reprompt iteration rejected",
			"pathway", pw.Name, "iteration", i+1, "max", maxIterations)
	}
	return last, nil
}
