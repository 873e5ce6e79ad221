package agent

import (
	"context"

	"roadtest/internal/graph"
	"roadtest/internal/knowledge"
	"roadtest/internal/types"
)

// knowledgeBridge adapts the concrete store to the narrow view the graph
// declares.
type knowledgeBridge struct {
	store *knowledge.Store
}

// NewKnowledgeBridge exposes a knowledge.Store as graph.Knowledge.
func NewKnowledgeBridge(store *knowledge.Store) graph.Knowledge {
	return &knowledgeBridge{store: store}
}

func (b *knowledgeBridge) GetTestCase(id string) (*types.TestCase, error) {
	return b.store.TestCases.Get(id)
}

func (b *knowledgeBridge) SearchTestCases(ctx context.Context, query string, k int) ([]knowledge.SearchHit, error) {
	return b.store.TestCases.Search(ctx, query, k)
}

func (b *knowledgeBridge) GetLearned(testID string) (*types.LearnedSolution, error) {
	return b.store.Learned.Get(testID)
}

func (b *knowledgeBridge) RecordLearned(testID, deviceID string, steps []types.LearnedStep, success bool) (*types.LearnedSolution, error) {
	return b.store.Learned.Record(testID, deviceID, steps, success)
}

func (b *knowledgeBridge) GetCoordinate(deviceID, name string) (types.Coordinate, bool) {
	c, ok := b.store.Profiles.GetCoordinate(deviceID, name)
	if !ok || c == nil {
		return types.Coordinate{}, false
	}
	return *c, true
}

func (b *knowledgeBridge) SetCoordinate(width, height int, name string, x, y int, source types.CoordinateSource) error {
	return b.store.Profiles.SetCoordinate(width, height, name, x, y, source)
}
