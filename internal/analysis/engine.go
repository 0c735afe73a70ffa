// Package analysis runs the parcel imagery pipeline and the export jobs
// built from its outputs.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

// Job kinds
const (
	KindAnalysis = "analysis"
	KindExport   = "export"
)

// Runner is the interface that every job kind implements
type Runner interface {
	// Run executes a queued job and persists its terminal state.
	Run(ctx context.Context, jobID int64) (models.JobResult, error)

	// Name returns the job kind handled by the runner
	Name() string
}

// Registry maps job kinds to runners
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates a registry holding the given runners
func NewRegistry(runners ...Runner) *Registry {
	r := &Registry{runners: make(map[string]Runner)}
	for _, runner := range runners {
		r.Register(runner)
	}
	return r
}

// Register adds or replaces the runner for its kind
func (r *Registry) Register(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[runner.Name()] = runner
}

// Get retrieves the runner for a job kind
func (r *Registry) Get(kind string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[kind]
	return runner, ok
}

// Kinds lists the registered job kinds
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.runners))
	for kind := range r.runners {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Run dispatches a job to the runner of its kind
func (r *Registry) Run(ctx context.Context, kind string, jobID int64) (models.JobResult, error) {
	runner, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("no runner registered for %q jobs", kind)
	}
	return runner.Run(ctx, jobID)
}
