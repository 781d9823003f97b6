package upstream

import (
	"context"

	"github.com/okian/assignml/internal/domain/model"
)

// DegradedProfiles answers with bare profiles carrying only the id. The
// feature builder fills every unknown attribute with its conservative default.
type DegradedProfiles struct{}

func (DegradedProfiles) Profiles(_ context.Context, ids []string) (map[string]model.UserProfile, error) {
	out := make(map[string]model.UserProfile, len(ids))
	for _, id := range ids {
		out[id] = model.UserProfile{ID: id}
	}
	return out, nil
}

// DegradedTasks has no way to know a task it was not given.
type DegradedTasks struct{}

func (DegradedTasks) Task(context.Context, string) (model.TaskProfile, error) {
	return model.TaskProfile{}, ErrUnavailable
}

// DegradedWorkloads reports nothing, so profiles keep whatever workload they carry.
type DegradedWorkloads struct{}

func (DegradedWorkloads) Workloads(context.Context, []string) (map[string]model.Workload, error) {
	return map[string]model.Workload{}, nil
}

// DegradedRecommender always fails so the aggregator keeps its local ranking.
type DegradedRecommender struct{}

func (DegradedRecommender) Recommend(context.Context, model.TaskProfile, []model.CandidateFeatures) ([]model.ExternalScore, error) {
	return nil, ErrUnavailable
}
