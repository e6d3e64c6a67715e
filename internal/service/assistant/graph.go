package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"userchat/internal/models"
)

const (
	NodeChat  = "chat"
	GraphName = "OpenAI Chat Graph with Database"
)

// NodeFunc is the signature of the graph's only step.
type NodeFunc func(ctx context.Context, state *models.State) (*models.Delta, error)

// Workflow is the compiled start -> chat -> end graph.
type Workflow struct {
	runnable compose.Runnable[*models.State, *models.Delta]
}

// NewWorkflow compiles a one-node graph around run.
func NewWorkflow(ctx context.Context, run NodeFunc) (*Workflow, error) {
	if run == nil {
		return nil, errors.New("node function is required")
	}
	g := compose.NewGraph[*models.State, *models.Delta]()
	if err := g.AddLambdaNode(NodeChat, compose.InvokableLambda(func(ctx context.Context, state *models.State) (*models.Delta, error) {
		return run(ctx, state)
	})); err != nil {
		return nil, fmt.Errorf("add %s node: %w", NodeChat, err)
	}
	if err := g.AddEdge(compose.START, NodeChat); err != nil {
		return nil, fmt.Errorf("add start edge: %w", err)
	}
	if err := g.AddEdge(NodeChat, compose.END); err != nil {
		return nil, fmt.Errorf("add end edge: %w", err)
	}
	runnable, err := g.Compile(ctx, compose.WithGraphName(GraphName))
	if err != nil {
		return nil, fmt.Errorf("compile graph: %w", err)
	}
	return &Workflow{runnable: runnable}, nil
}

// Invoke runs one turn with configurable as the invocation's overlay.
func (w *Workflow) Invoke(ctx context.Context, state *models.State, configurable map[string]any) (*models.Delta, error) {
	if state == nil {
		return nil, ErrNilState
	}
	return w.runnable.Invoke(WithConfigurable(ctx, configurable), state)
}
