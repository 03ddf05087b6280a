package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/addinaudit/internal/core"
)

type stubStep struct {
	name string
	skip bool
	err  error
	log  *[]string
}

func (s stubStep) Name() string               { return s.name }
func (s stubStep) Description() string        { return "stub " + s.name }
func (s stubStep) Precondition(*Context) bool { return !s.skip }
func (s stubStep) Execute(context.Context, *Context) error {
	*s.log = append(*s.log, s.name)
	return s.err
}

func TestOrchestratorOrderAndSkip(t *testing.T) {
	var log []string
	o := New([]Entry{
		{Step: stubStep{name: "a", log: &log}},
		{Step: stubStep{name: "b", skip: true, log: &log}},
		{Step: stubStep{name: "c", log: &log}},
	}, nil)

	require.NoError(t, o.Run(context.Background(), &Context{}))
	assert.Equal(t, []string{"a", "c"}, log)
}

func TestOrchestratorContinueOnError(t *testing.T) {
	boom := errors.New("boom")
	var log []string
	o := New([]Entry{
		{Step: stubStep{name: "best-effort", err: boom, log: &log}, ContinueOnError: true},
		{Step: stubStep{name: "fatal", err: boom, log: &log}},
		{Step: stubStep{name: "never", log: &log}},
	}, nil)

	err := o.Run(context.Background(), &Context{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "step fatal: boom", err.Error())
	assert.Equal(t, []string{"best-effort", "fatal"}, log)
}

func TestOrchestratorCancelled(t *testing.T) {
	var log []string
	o := New([]Entry{{Step: stubStep{name: "a", log: &log}}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := o.Run(ctx, &Context{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log)
}

func TestDefaultStepsOrder(t *testing.T) {
	var names []string
	for _, e := range DefaultSteps() {
		names = append(names, e.Step.Name())
		if e.Step.Name() == "recipe" {
			assert.True(t, e.ContinueOnError)
		}
	}
	assert.Equal(t, []string{
		"cleanup", "load", "discover", "metadata", "download", "inspect",
		"resolve", "analyze", "recipe", "persist", "summary",
	}, names)
}

func TestSummarize(t *testing.T) {
	clean := core.NewPackageVersion("Cake.A", "1.0.0")
	clean.Compliance.UpToDate = true
	exception := core.NewPackageVersion("Cake.B", "1.0.0")
	exception.AddNote("boom")

	s := Summarize([]*core.PackageVersion{clean, exception})
	assert.Equal(t, 2, s.Total)
	assert.Len(t, s.Clean, 1)
	assert.Len(t, s.Exceptions, 1)
	assert.Equal(t, 1, s.UpToDate)
	assert.Equal(t, 1, s.ByIcon[clean.Compliance.Icon])
}
