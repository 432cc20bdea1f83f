// SPDX-License-Identifier: MPL-2.0

package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/hotpatch/hotpatch/internal/classify"
	"github.com/hotpatch/hotpatch/internal/compiler"
	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/schedule"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

type (
	// RoundReport describes one executed round.
	RoundReport struct {
		Index             int
		Kind              Kind
		Sources           int
		Elapsed           time.Duration
		GenerationSkipped bool
		Failed            bool
	}

	// Report aggregates a run. Outcome is the outcome of the last executed
	// round: OK when every round succeeded, the failure otherwise.
	Report struct {
		Outcome compiler.Outcome
		Rounds  []RoundReport
	}

	// Engine drives rounds through their strategies.
	Engine struct {
		classifier classify.Classifier
		pool       *workerpool.Pool
		root       string
		plain      Strategy
		codegen    Strategy
		plainOnly  bool
	}

	// EngineOption configures an Engine.
	EngineOption func(*Engine)
)

// WithPlainOnly makes every round use the plain strategy.
func WithPlainOnly(on bool) EngineOption {
	return func(e *Engine) { e.plainOnly = on }
}

// WithRoot resolves relative source paths against root when classifying.
func WithRoot(root string) EngineOption {
	return func(e *Engine) { e.root = root }
}

// NewEngine creates an engine. codegen may be nil when no processor is
// configured; generation-required rounds then fail to select.
func NewEngine(classifier classify.Classifier, pool *workerpool.Pool, plain, codegen Strategy, opts ...EngineOption) *Engine {
	e := &Engine{classifier: classifier, pool: pool, plain: plain, codegen: codegen}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes rounds strictly in order and stops after the first failed
// round. Errors abort the run immediately.
func (e *Engine) Run(ctx context.Context, rounds []schedule.Round) (Report, error) {
	report := Report{Outcome: compiler.OK}
	for _, round := range rounds {
		rr, result, err := e.runRound(ctx, round)
		if err != nil {
			return report, fmt.Errorf("round %d: %w", round.Index, err)
		}
		report.Rounds = append(report.Rounds, rr)
		report.Outcome = result.Outcome
		if result.Outcome.Failed() {
			ctxlog.FromContext(ctx).Error("round failed", "round", round.Index, "remaining", len(rounds)-round.Index)
			break
		}
	}
	return report, nil
}

func (e *Engine) runRound(ctx context.Context, round schedule.Round) (RoundReport, Result, error) {
	logger := ctxlog.FromContext(ctx).With("round", round.Index)

	classification, err := e.Classify(ctx, round)
	if err != nil {
		return RoundReport{}, Result{}, err
	}
	s, err := e.Select(classification)
	if err != nil {
		return RoundReport{}, Result{}, err
	}

	generation, plain := classification.Count()
	logger.Info("compiling round", "strategy", s.Kind(), "sources", round.Len(), "generation", generation, "plain", plain)

	start := time.Now()
	result, err := s.Execute(ctxlog.WithLogger(ctx, logger), round)
	if err != nil {
		return RoundReport{}, Result{}, err
	}
	rr := RoundReport{
		Index:             round.Index,
		Kind:              s.Kind(),
		Sources:           round.Len(),
		Elapsed:           time.Since(start),
		GenerationSkipped: result.GenerationSkipped,
		Failed:            result.Outcome.Failed(),
	}
	logger.Info("round finished", "ok", !rr.Failed, "elapsed", rr.Elapsed.Round(time.Millisecond))
	return rr, result, nil
}

// Classify scans every source of the round through the pool.
func (e *Engine) Classify(ctx context.Context, round schedule.Round) (Classification, error) {
	type item struct {
		module project.Module
		source string
	}
	var items []item
	for _, m := range round.Modules() {
		for _, src := range round.Sources(m) {
			items = append(items, item{module: m, source: src})
		}
	}

	tasks := make([]workerpool.Task[bool], 0, len(items))
	for _, it := range items {
		tasks = append(tasks, func(ctx context.Context) (bool, error) {
			return e.classifier.RequiresGeneration(ctx, e.resolve(it.source))
		})
	}
	flags, err := workerpool.Run(ctx, e.pool, tasks)
	if err != nil {
		return Classification{}, err
	}

	c := Classification{
		Generation: make(map[project.Module][]string),
		Plain:      make(map[project.Module][]string),
	}
	for i, it := range items {
		if flags[i] {
			c.Generation[it.module] = append(c.Generation[it.module], it.source)
		} else {
			c.Plain[it.module] = append(c.Plain[it.module], it.source)
		}
	}
	return c, nil
}

// Select picks the strategy of a classified round. Generation-required
// sources dominate.
func (e *Engine) Select(c Classification) (Strategy, error) {
	if e.plainOnly || !c.RequiresGeneration() {
		return e.plain, nil
	}
	if e.codegen == nil {
		return nil, fmt.Errorf("sources require code generation but no processor is configured")
	}
	return e.codegen, nil
}

func (e *Engine) resolve(path string) string {
	return resolvePath(e.root, path)
}
