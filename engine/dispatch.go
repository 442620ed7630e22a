package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/archon-ai/pathways/bus"
	"github.com/archon-ai/pathways/chunker"
	"github.com/archon-ai/pathways/errors"
	"github.com/archon-ai/pathways/logger"
	"github.com/archon-ai/pathways/metrics"
	"github.com/archon-ai/pathways/pathway"
	"github.com/archon-ai/pathways/plugin"
)

// chunkJoinSeparator joins per-chunk results back into one document.
const chunkJoinSeparator = "\n\n"

// runPrompts drives the prompt list of pw to completion: input preparation,
// chunked dispatch in the declared mode, and final parsing.
func (e *Engine) runPrompts(ctx context.Context, id string, pw *pathway.Pathway, args map[string]any, streamed bool) (any, error) {
	plug, ok := e.plugins.Get(pw.Model)
	if !ok {
		return nil, errors.New("engine", "runPrompts",
			fmt.Errorf("unknown model %q", pw.Model)).WithKind(errors.KindInput)
	}

	text := stringArg(args, "text")
	if pw.UseInputSummarization && text != "" {
		summarized, err := e.summarize(ctx, text, args)
		if err != nil {
			return nil, err
		}
		text = summarized
	}

	contextID := stringArg(args, "contextId")
	vars := e.baseVars(ctx, args)

	budget, err := e.chunkBudget(pw, plug, vars)
	if err != nil {
		return nil, err
	}
	chunks, err := e.prepareChunks(id, pw, plug, text, budget)
	if err != nil {
		return nil, err
	}
	metrics.RecordInputChunks(pw.Name, len(chunks))

	total := dispatchCount(pw, len(chunks))
	e.requests.SetTotal(id, total)
	logger.PathwayResolve(pw.Name, pw.Model, len(pw.Prompts), len(chunks), "request_id", id)

	// Streaming is only meaningful for a single dispatch; otherwise the client
	// must subscribe for progress instead.
	streamed = streamed && total == 1

	switch {
	case pw.UseParallelChunkProcessing && len(chunks) > 1:
		return e.runParallelChunks(ctx, id, pw, plug, chunks, vars, args, contextID)
	case pw.UseParallelPromptProcessing && len(pw.Prompts) > 1:
		return e.runParallelPrompts(ctx, id, pw, plug, chunks, vars, args, contextID)
	default:
		return e.runSerial(ctx, id, pw, plug, chunks, vars, args, contextID, streamed)
	}
}

// summarize replaces oversized input with the result of the summary pathway.
func (e *Engine) summarize(ctx context.Context, text string, args map[string]any) (string, error) {
	v, err := e.ResolveName(ctx, summaryPathway, map[string]any{
		"text":         text,
		"targetLength": 0,
		"contextId":    args["contextId"],
	})
	if err != nil {
		return "", fmt.Errorf("input summarization failed: %w", err)
	}
	return stringify(v), nil
}

// chunkBudget computes the per-chunk token budget for pw on plug.
func (e *Engine) chunkBudget(pw *pathway.Pathway, plug plugin.Plugin, vars map[string]string) (int, error) {
	if pw.InputChunkSize > 0 {
		return pw.InputChunkSize, nil
	}

	maxOverhead := 0
	dual := false
	for _, prompt := range pw.Prompts {
		overhead, err := e.compiler.Overhead(prompt, vars)
		if err != nil {
			return 0, err
		}
		if overhead > maxOverhead {
			maxOverhead = overhead
		}
		if prompt.UsesTextInput() && prompt.UsesPreviousResult() {
			dual = true
		}
	}

	budget := pathway.ChunkMaxTokens(plug.PromptTokenRatio(), plug.ModelMaxTokens(), maxOverhead, dual)
	if budget <= 0 {
		return 0, errors.New("engine", "chunkBudget",
			fmt.Errorf("prompt overhead %d exceeds the %s context window", maxOverhead, pw.Model)).
			WithKind(errors.KindInput)
	}
	return budget, nil
}

// prepareChunks splits or truncates the input text against the token budget.
func (e *Engine) prepareChunks(id string, pw *pathway.Pathway, plug plugin.Plugin, text string, budget int) ([]string, error) {
	n, err := e.codec.Count(text)
	if err != nil {
		// Encoding failure is transient; degrade to the heuristic estimate.
		logger.Warn("token count failed, falling back to heuristic estimate",
			"request_id", id, "error", err)
		e.requests.AddWarning(id, "token accounting degraded to heuristic estimate")
		n = e.estimator.CountTokens(text)
	}

	if pw.UseInputChunking && n > budget {
		return e.chunk.Split(text, budget, inputFormat(pw, text))
	}

	// Single chunk. An input at or over the budget cannot be dispatched whole.
	if n >= budget {
		e.requests.AddWarning(id, "input truncated to fit the model context window")
		if plug.TruncateFromFront() {
			text, err = e.chunk.TruncateFront(text, budget-1)
		} else {
			text, err = e.chunk.TruncateBack(text, budget-1)
		}
		if err != nil {
			return nil, fmt.Errorf("input truncation failed: %w", err)
		}
	}
	return []string{text}, nil
}

// inputFormat picks the chunker format from the pathway or the input itself.
func inputFormat(pw *pathway.Pathway, text string) chunker.Format {
	switch pw.InputFormat {
	case string(chunker.FormatHTML):
		return chunker.FormatHTML
	case string(chunker.FormatText):
		return chunker.FormatText
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, "</") {
		return chunker.FormatHTML
	}
	return chunker.FormatText
}

// dispatchCount is the total number of plugin calls the plan requires. Prompts
// that do not consume the input text dispatch once regardless of chunk count;
// in parallel-chunk mode every prompt runs per chunk.
func dispatchCount(pw *pathway.Pathway, chunks int) int {
	if pw.UseParallelChunkProcessing && chunks > 1 {
		return chunks * len(pw.Prompts)
	}
	total := 0
	for _, prompt := range pw.Prompts {
		if prompt.UsesTextInput() {
			total += chunks
		} else {
			total++
		}
	}
	return total
}

// runSerial applies the prompts in order with previous-result propagation.
// The final prompt's joined result is parsed per the pathway's output contract.
func (e *Engine) runSerial(ctx context.Context, id string, pw *pathway.Pathway, plug plugin.Plugin,
	chunks []string, vars map[string]string, args map[string]any, contextID string, streamed bool) (any, error) {

	previous := ""
	last := ""
	for _, prompt := range pw.Prompts {
		var result string
		if prompt.UsesTextInput() {
			parts := make([]string, len(chunks))
			for ci, chunk := range chunks {
				out, err := e.dispatchOne(ctx, id, plug, pw, prompt,
					withSlots(vars, chunk, previous), args, streamed)
				if err != nil {
					return nil, err
				}
				parts[ci] = out
			}
			result = strings.Join(parts, chunkJoinSeparator)
		} else {
			out, err := e.dispatchOne(ctx, id, plug, pw, prompt,
				withSlots(vars, "", previous), args, streamed)
			if err != nil {
				return nil, err
			}
			result = out
		}

		e.propagateResult(ctx, id, contextID, prompt, result, vars)
		previous = result
		last = result
	}
	return pathway.Parse(last, pw)
}

// runParallelChunks fans the chunks out concurrently; each chunk applies the
// full prompt list serially with its own previous-result lineage. Joined
// output preserves input chunk order regardless of completion order, and each
// prompt's saveResultTo receives its joined per-chunk result.
func (e *Engine) runParallelChunks(ctx context.Context, id string, pw *pathway.Pathway, plug plugin.Plugin,
	chunks []string, vars map[string]string, args map[string]any, contextID string) (any, error) {

	outputs := make([][]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for ci, chunk := range chunks {
		ci, chunk := ci, chunk
		g.Go(func() error {
			row := make([]string, len(pw.Prompts))
			previous := ""
			for pi, prompt := range pw.Prompts {
				out, err := e.dispatchOne(gctx, id, plug, pw, prompt,
					withSlots(vars, chunk, previous), args, false)
				if err != nil {
					return err
				}
				row[pi] = out
				previous = out
			}
			outputs[ci] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Each prompt's result is its per-chunk outputs joined in input order.
	for pi, prompt := range pw.Prompts {
		parts := make([]string, len(chunks))
		for ci := range chunks {
			parts[ci] = outputs[ci][pi]
		}
		e.propagateResult(ctx, id, contextID, prompt, strings.Join(parts, chunkJoinSeparator), vars)
	}

	joined := make([]string, len(chunks))
	for ci := range chunks {
		joined[ci] = outputs[ci][len(pw.Prompts)-1]
	}
	return pathway.Parse(strings.Join(joined, chunkJoinSeparator), pw)
}

// runParallelPrompts applies each prompt independently across all chunks. The
// result is one entry per prompt, ordered by prompt index; there is no
// previous-result propagation between prompts.
func (e *Engine) runParallelPrompts(ctx context.Context, id string, pw *pathway.Pathway, plug plugin.Plugin,
	chunks []string, vars map[string]string, args map[string]any, contextID string) (any, error) {

	results := make([]string, len(pw.Prompts))
	g, gctx := errgroup.WithContext(ctx)
	for pi, prompt := range pw.Prompts {
		pi, prompt := pi, prompt
		g.Go(func() error {
			if !prompt.UsesTextInput() {
				out, err := e.dispatchOne(gctx, id, plug, pw, prompt,
					withSlots(vars, "", ""), args, false)
				if err != nil {
					return err
				}
				results[pi] = out
				return nil
			}

			parts := make([]string, len(chunks))
			for ci, chunk := range chunks {
				out, err := e.dispatchOne(gctx, id, plug, pw, prompt,
					withSlots(vars, chunk, ""), args, false)
				if err != nil {
					return err
				}
				parts[ci] = out
			}
			results[pi] = strings.Join(parts, chunkJoinSeparator)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for pi, prompt := range pw.Prompts {
		e.propagateResult(ctx, id, contextID, prompt, results[pi], nil)
	}
	return results, nil
}

// dispatchOne compiles and executes a single prompt dispatch, publishing the
// progress event on success. The canceled flag is re-read before dispatch and
// after completion; a result produced after cancel is discarded.
func (e *Engine) dispatchOne(ctx context.Context, id string, plug plugin.Plugin, pw *pathway.Pathway,
	prompt *pathway.Prompt, vars map[string]string, args map[string]any, streamed bool) (string, error) {

	if e.requests.IsCanceled(id) {
		return "", canceledError()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	compiled, err := e.compiler.Compile(prompt, vars)
	if err != nil {
		return "", errors.New("engine", "dispatch", err).
			WithKind(errors.KindInput).
			WithDetails(map[string]any{"pathway": pw.Name, "prompt": prompt.Name})
	}

	ctx, span := e.tracer.Start(ctx, "pathway.dispatch",
		trace.WithAttributes(
			attribute.String("prompt.name", prompt.Name),
			attribute.String("pathway.model", pw.Model),
			attribute.Int("prompt.tokens", compiled.TokenLength),
		))
	defer span.End()

	logger.PluginCall(pw.Model, pw.Name, prompt.Name, compiled.TokenLength, "request_id", id)

	req := plugin.Request{
		Prompt:      compiled,
		Temperature: pw.Temperature,
		Params:      args,
	}

	start := time.Now()
	var out string
	if s, ok := plug.(plugin.Streamer); ok && streamed {
		out, err = s.ExecuteStream(ctx, req, func(delta string) {
			e.publish(ctx, bus.Event{RequestID: id, Data: delta})
		})
	} else {
		out, err = plug.Execute(ctx, req)
	}
	metrics.RecordDispatch(pw.Model, err, time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.New("engine", "dispatch", err).
			WithKind(errors.KindUpstream).
			WithDetails(map[string]any{"pathway": pw.Name, "prompt": prompt.Name})
	}

	if e.requests.IsCanceled(id) {
		return "", canceledError()
	}

	completed, total := e.requests.IncrementCompleted(id)
	progress := 1.0
	if total > 0 {
		progress = float64(completed) / float64(total)
	}
	if progress < 1 {
		e.publish(ctx, bus.Event{RequestID: id, Progress: progress})
	}
	return out, nil
}

// propagateResult writes a prompt result through SaveResultTo into the
// context blob and the live variable set.
func (e *Engine) propagateResult(ctx context.Context, id, contextID string, prompt *pathway.Prompt, result string, vars map[string]string) {
	if prompt.SaveResultTo == "" {
		return
	}
	if vars != nil {
		vars[prompt.SaveResultTo] = result
	}
	if contextID == "" {
		return
	}

	blob, err := e.contexts.Load(ctx, contextID)
	if err != nil {
		logger.WarnContext(ctx, "failed to load context blob", "request_id", id, "error", err)
		blob = map[string]string{}
	}
	blob[prompt.SaveResultTo] = result
	if err := e.contexts.Save(ctx, contextID, blob); err != nil {
		logger.WarnContext(ctx, "failed to save context blob", "request_id", id, "error", err)
	}
}

// baseVars builds the variable set for prompt compilation: stringified args
// overlaid on the context blob, args winning on conflict.
func (e *Engine) baseVars(ctx context.Context, args map[string]any) map[string]string {
	vars := make(map[string]string, len(args))

	if contextID := stringArg(args, "contextId"); contextID != "" {
		blob, err := e.contexts.Load(ctx, contextID)
		if err != nil {
			logger.WarnContext(ctx, "failed to load context blob", "context_id", contextID, "error", err)
		} else {
			for k, v := range blob {
				vars[k] = v
			}
		}
	}

	for k, v := range args {
		if k == "async" || k == "stream" {
			continue
		}
		vars[k] = stringify(v)
	}
	return vars
}

// withSlots copies vars with the per-dispatch input slots filled in.
func withSlots(vars map[string]string, text, previousResult string) map[string]string {
	out := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		out[k] = v
	}
	out["text"] = text
	out["previousResult"] = previousResult
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func canceledError() error {
	return errors.New("engine", "dispatch", context.Canceled).WithKind(errors.KindCanceled)
}
