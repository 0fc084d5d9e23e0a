package worker

import (
	"context"
	"strings"
	"sync"

	"github.com/transitx/transitx/internal/etl"
)

// Pipeline runs a list of pipeline stages.
type Pipeline interface {
	Run(ctx context.Context, stages []string) error
}

// StagePipeline runs etl stages against fixed dependencies. Runs are
// serialized because every stage overwrites shared artifacts.
type StagePipeline struct {
	deps etl.Deps
	mu   sync.Mutex
}

// NewStagePipeline creates a pipeline over deps.
func NewStagePipeline(deps etl.Deps) *StagePipeline {
	return &StagePipeline{deps: deps}
}

// Run parses, builds and runs the named stages. An empty list selects the
// default stages and ["all"] every stage.
func (p *StagePipeline) Run(ctx context.Context, names []string) error {
	selected, err := etl.ParseStages(strings.Join(names, ","))
	if err != nil {
		return err
	}
	stages, err := etl.Build(p.deps, selected)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return etl.NewRunner(p.deps.Logger, p.deps.Metrics, stages...).Run(ctx)
}
