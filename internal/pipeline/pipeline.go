// Package pipeline runs the discovery and analysis steps in order against a
// shared Context.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNoPackages is returned when the registry search yields nothing at all.
var ErrNoPackages = errors.New("no packages discovered")

// Step is one unit of the pipeline.
type Step interface {
	// Name is a short identifier used in logs and errors.
	Name() string

	// Description says what the step does, for humans.
	Description() string

	// Precondition reports whether the step should run for this run's
	// configuration and state.
	Precondition(pc *Context) bool

	// Execute performs the step. Per-package failures are recorded on the
	// packages; only failures of the whole step are returned.
	Execute(ctx context.Context, pc *Context) error
}

// Entry places a step in the sequence.
type Entry struct {
	Step Step
	// ContinueOnError lets the run go on when the step fails.
	ContinueOnError bool
}

// StepError reports the failure of one step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// DefaultSteps returns the standard sequence.
func DefaultSteps() []Entry {
	return []Entry{
		{Step: cleanup{}},
		{Step: loadSnapshots{}},
		{Step: discover{}},
		{Step: fetchMetadata{}},
		{Step: download{}},
		{Step: inspectPackages{}},
		{Step: resolveRepositories{}},
		{Step: analyzePackages{}},
		{Step: checkRecipe{}, ContinueOnError: true},
		{Step: persist{}},
		{Step: summarize{}},
	}
}

// Orchestrator executes steps in order.
type Orchestrator struct {
	steps  []Entry
	logger *zap.Logger
}

// New creates an orchestrator. A nil logger discards output.
func New(steps []Entry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{steps: steps, logger: logger}
}

// Steps returns the configured sequence.
func (o *Orchestrator) Steps() []Entry {
	return o.steps
}

// Run executes every step whose precondition holds. It stops at the first
// failing step not marked ContinueOnError, and when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, pc *Context) error {
	for _, e := range o.steps {
		name := e.Step.Name()
		if err := ctx.Err(); err != nil {
			return &StepError{Step: name, Err: err}
		}
		if !e.Step.Precondition(pc) {
			o.logger.Debug("skipping step", zap.String("step", name))
			continue
		}

		o.logger.Info(e.Step.Description(), zap.String("step", name))
		start := time.Now()
		err := e.Step.Execute(ctx, pc)
		took := time.Since(start)

		if err != nil {
			if e.ContinueOnError && ctx.Err() == nil {
				o.logger.Warn("step failed, continuing",
					zap.String("step", name), zap.Duration("took", took), zap.Error(err))
				continue
			}
			return &StepError{Step: name, Err: err}
		}
		o.logger.Debug("step finished",
			zap.String("step", name), zap.Duration("took", took), zap.Int("packages", len(pc.Packages)))
	}
	return nil
}
