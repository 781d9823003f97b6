package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	eventqueue "github.com/okian/assignml/internal/adapters/mq/queue"
	"github.com/okian/assignml/internal/adapters/upstream"
	"github.com/okian/assignml/internal/domain/aggregator"
	"github.com/okian/assignml/internal/domain/ensemble"
	"github.com/okian/assignml/internal/domain/features"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// Names added to the degraded list besides the upstream capabilities.
const (
	degradedHistory = "history"
	degradedModel   = "model"
)

// A recommendation counts as a predicted success at or above this overall score.
const predictedSuccessScore = 0.5

// RecommendRequest asks for a ranked list of candidates for one task.
type RecommendRequest struct {
	// Task is used as given. When nil, TaskID is looked up upstream.
	Task   *model.TaskProfile `json:"task,omitempty"`
	TaskID string             `json:"taskId,omitempty"`
	// Candidates are scored as given; CandidateIDs are looked up upstream.
	// Malformed candidates are skipped, never fatal.
	Candidates   []model.UserProfile `json:"candidates,omitempty"`
	CandidateIDs []string            `json:"candidateIds,omitempty" validate:"omitempty,dive,required"`
	// Rejected are candidate records the caller could not decode. They are
	// reported as skipped.
	Rejected []features.Skipped `json:"-"`
	// Weights override the signal weights for this request.
	Weights map[string]float64 `json:"weights,omitempty"`
	Limit   int                `json:"limit,omitempty" validate:"gte=0"`
}

// RecommendResponse is the ranked and explained list.
type RecommendResponse struct {
	TaskID          string                           `json:"taskId"`
	ModelVersion    string                           `json:"modelVersion,omitempty"`
	Degraded        []string                         `json:"degraded"`
	Skipped         []features.Skipped               `json:"skipped"`
	External        bool                             `json:"external"`
	Recommendations []model.AssignmentRecommendation `json:"recommendations"`
}

// Recommend ranks the candidates of req. Upstream failures degrade individual
// signals; the only errors are caller errors and cancellation.
func (s *Service) Recommend(ctx context.Context, req RecommendRequest) (RecommendResponse, error) {
	start := s.now()
	ctx, degraded := upstream.WithDegradations(ctx)

	task, err := s.resolveTask(ctx, req)
	if err != nil {
		return RecommendResponse{}, err
	}
	pool, skipped, err := s.resolveCandidates(ctx, req)
	if err != nil {
		return RecommendResponse{}, err
	}

	feats, bad := s.builder.Build(ctx, task, pool)
	skipped = append(skipped, bad...)
	for range skipped {
		metrics.RecordCandidateSkipped()
	}

	resp := RecommendResponse{
		TaskID:          task.ID,
		Skipped:         skipped,
		Recommendations: []model.AssignmentRecommendation{},
	}
	if resp.Skipped == nil {
		resp.Skipped = []features.Skipped{}
	}

	if len(feats) > 0 {
		in, m, err := s.score(ctx, task, feats)
		if err != nil {
			return RecommendResponse{}, err
		}
		if m != nil {
			resp.ModelVersion = m.Version()
		}
		res, err := s.aggregator.Aggregate(ctx, task, in, req.Weights, req.Limit)
		if err != nil {
			if errors.Is(err, aggregator.ErrInvalidWeights) {
				return RecommendResponse{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
			}
			return RecommendResponse{}, err
		}
		resp.External = res.External
		resp.Recommendations = res.Recommendations
		s.logPredictions(ctx, task.ID, res.Recommendations)
	}
	if err := ctx.Err(); err != nil {
		return RecommendResponse{}, err
	}

	resp.Degraded = degraded.Names()
	metrics.RecordRecommendation(task.Priority.String(), float64(s.now().Sub(start).Microseconds())/1000)
	s.logger.Debug(ctx, "recommendation served",
		logger.String("task_id", task.ID),
		logger.Int("candidates", len(pool)),
		logger.Int("returned", len(resp.Recommendations)),
		logger.String("degraded", strings.Join(resp.Degraded, ",")),
	)
	return resp, nil
}

func (s *Service) resolveTask(ctx context.Context, req RecommendRequest) (model.TaskProfile, error) {
	if req.Task != nil {
		if strings.TrimSpace(req.Task.ID) == "" {
			return model.TaskProfile{}, fmt.Errorf("%w: task id is required", ErrBadRequest)
		}
		return *req.Task, nil
	}
	if strings.TrimSpace(req.TaskID) == "" {
		return model.TaskProfile{}, fmt.Errorf("%w: task or taskId is required", ErrBadRequest)
	}
	task, err := s.upstream.Tasks.Task(ctx, req.TaskID)
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		return model.TaskProfile{}, fmt.Errorf("%w: unknown task %q", ErrBadRequest, req.TaskID)
	case err != nil:
		// Score against the bare id; every task feature takes its neutral value.
		s.logger.Warn(ctx, "task lookup failed, scoring without task attributes",
			logger.String("task_id", req.TaskID), logger.Error(err))
		upstream.Note(ctx, upstream.CapabilityTasks)
		return model.TaskProfile{ID: req.TaskID}, nil
	}
	return task, nil
}

func (s *Service) resolveCandidates(ctx context.Context, req RecommendRequest) ([]model.UserProfile, []features.Skipped, error) {
	if len(req.Candidates) == 0 && len(req.CandidateIDs) == 0 && len(req.Rejected) == 0 {
		return nil, nil, fmt.Errorf("%w: candidates or candidateIds are required", ErrBadRequest)
	}
	pool := make([]model.UserProfile, 0, len(req.Candidates)+len(req.CandidateIDs))
	pool = append(pool, req.Candidates...)

	skipped := append([]features.Skipped(nil), req.Rejected...)
	for _, r := range req.Rejected {
		s.logger.Warn(ctx, "skipping unreadable candidate",
			logger.String("user_id", r.UserID), logger.String("reason", r.Reason))
	}
	if len(req.CandidateIDs) > 0 {
		profiles, err := s.upstream.Profiles.Profiles(ctx, req.CandidateIDs)
		if err != nil {
			s.logger.Warn(ctx, "profile lookup failed", logger.Error(err))
			upstream.Note(ctx, upstream.CapabilityProfiles)
			profiles = nil
		}
		for _, id := range req.CandidateIDs {
			p, ok := profiles[id]
			if !ok {
				skipped = append(skipped, features.Skipped{UserID: id, Reason: "profile not found or unreadable"})
				continue
			}
			pool = append(pool, p)
		}
	}

	ids := make([]string, 0, len(pool))
	for i := range pool {
		if pool[i].ID != "" {
			ids = append(ids, pool[i].ID)
		}
	}
	if len(ids) > 0 {
		loads, err := s.upstream.Workloads.Workloads(ctx, ids)
		if err != nil {
			s.logger.Warn(ctx, "workload lookup failed", logger.Error(err))
			upstream.Note(ctx, upstream.CapabilityWorkloads)
		}
		for i := range pool {
			if w, ok := loads[pool[i].ID]; ok {
				pool[i].ApplyWorkload(w)
			}
		}
	}
	return pool, skipped, nil
}

// score fans the three independent scorers out and then runs the predictor on
// one model snapshot for the whole pool.
func (s *Service) score(ctx context.Context, task model.TaskProfile, feats []model.CandidateFeatures) ([]aggregator.Input, *ensemble.Model, error) {
	in := make([]aggregator.Input, len(feats))
	for i := range feats {
		in[i].Features = feats[i]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i := range in {
			in[i].Content = s.content.Score(in[i].Features)
		}
		return nil
	})
	g.Go(func() error {
		history, err := s.store.SimilarHistory(gctx, strings.ToLower(strings.TrimSpace(task.TaskType)), s.cfg.CFHistoryLimit)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			s.logger.Warn(ctx, "history lookup failed, collaborative signal is neutral", logger.Error(err))
			upstream.Note(ctx, degradedHistory)
			metrics.RecordScorerDegraded(degradedHistory)
			history = nil
		}
		for i := range in {
			in[i].Collaborative, _ = s.collaborative.Score(in[i].Features, history)
		}
		return nil
	})
	g.Go(func() error {
		res := s.mcda.Score(feats)
		for i := range in {
			in[i].MCDA = res[i]
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	m := s.handle.Load()
	if m == nil {
		upstream.Note(ctx, degradedModel)
	}
	for i := range in {
		vec := features.Vector(in[i].Features, features.Meta{
			Content:       in[i].Content,
			Collaborative: in[i].Collaborative,
			AHP:           in[i].MCDA.AHP,
		})
		in[i].Prediction = ensemble.Predict(m, vec)
	}
	return in, m, nil
}

// logPredictions hands one log per returned recommendation to the writers.
// A full queue drops the batch rather than delaying the response.
func (s *Service) logPredictions(ctx context.Context, taskID string, recs []model.AssignmentRecommendation) {
	if len(recs) == 0 {
		return
	}
	now := s.now().UTC()
	logs := make([]model.PredictionLog, len(recs))
	for i, r := range recs {
		logs[i] = model.PredictionLog{
			ID:                 uuid.NewString(),
			TaskID:             r.TaskID,
			UserID:             r.UserID,
			ModelVersion:       r.ModelVersion,
			PredictionType:     model.PredictionRecommendation,
			ConfidenceScore:    r.OverallScore,
			ContentScore:       r.ContentBasedScore,
			CollaborativeScore: r.CollaborativeFilteringScore,
			MCDAScore:          r.TopsScore,
			RFPredictionScore:  r.RFPredictionScore,
			RFConfidence:       r.RFConfidence,
			PredictedSuccess:   r.OverallScore >= predictedSuccessScore,
			RecommendationRank: r.Rank,
			PredictionDate:     now,
		}
	}
	if !s.queue.Enqueue(ctx, eventqueue.Batch{TaskID: taskID, Logs: logs}) {
		s.logger.Warn(ctx, "prediction logs dropped, queue full or closed",
			logger.String("task_id", taskID), logger.Int("logs", len(logs)))
	}
}
