// Package trainer fits, evaluates and deploys the ensemble predictor from the
// collected training rows, one run at a time.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/assignml/internal/domain/ensemble"
	"github.com/okian/assignml/internal/domain/features"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/scoring"
	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// Store is the persistence the trainer reads and appends to.
type Store interface {
	ListTrainingData(ctx context.Context, since time.Time) ([]model.TrainingData, error)
	CountTrainingData(ctx context.Context, since time.Time) (int, error)
	AppendHistory(ctx context.Context, h *model.ModelTrainingHistory) error
	// LatestHistory and LatestDeployed return model.ErrNotFound when there is no run.
	LatestHistory(ctx context.Context) (model.ModelTrainingHistory, error)
	LatestDeployed(ctx context.Context) (model.ModelTrainingHistory, error)
	ListHistory(ctx context.Context, since time.Time, offset, limit int) ([]model.ModelTrainingHistory, int, error)
	FeedbackAccuracy(ctx context.Context, since time.Time) (float64, int, error)
}

// Registry keeps model artifacts.
type Registry interface {
	Save(ctx context.Context, m *ensemble.Model) error
	SetDeployed(ctx context.Context, version string) error
}

// Publisher announces training progress and deployments.
type Publisher interface {
	PublishModelUpdated(ctx context.Context, version string, m ensemble.Metrics, deployedAt time.Time) error
	PublishTrainingStatus(ctx context.Context, runID, status, details string) error
}

// Request starts a run.
type Request struct {
	// ForceRetrain skips the retrain policy.
	ForceRetrain bool `json:"forceRetrain"`
	// UseSynthetic tops up insufficient real data with generated rows.
	UseSynthetic bool `json:"useSynthetic"`
	// Shadow stores and records the model without deploying it.
	Shadow bool `json:"shadow"`
	// MonthsBack limits the rows to the last N months; 0 uses every row.
	MonthsBack int `json:"monthsBack,omitempty"`
}

// Run states.
const (
	StateIdle      = "IDLE"
	StateRunning   = "RUNNING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
	StateCancelled = "CANCELLED"
)

// Status is a snapshot of the trainer.
type Status struct {
	RunID       string     `json:"runId,omitempty"`
	State       string     `json:"state"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	LastVersion string     `json:"lastVersion,omitempty"`
	LastOutcome string     `json:"lastOutcome,omitempty"`
}

// Config holds everything a run needs besides its collaborators.
type Config struct {
	Quality             QualityConfig
	ValidationSplit     float64
	RegressionTolerance float64
	Forest              ensemble.Params
	// SyntheticRows caps the generated rows appended to one run.
	SyntheticRows   int
	CriteriaWeights scoring.Weights
	// Collaborative scores rows that carry no served collaborative score.
	// Nil uses the default neighbour settings.
	Collaborative *scoring.Collaborative
	// HistoryLimit bounds the earlier rows the collaborative score sees.
	HistoryLimit int
	Policy       PolicyConfig
}

// Trainer runs training. Only one run is in flight at a time.
type Trainer struct {
	store      Store
	registry   Registry
	handle     *ensemble.Handle
	publisher  Publisher
	policy     *Policy
	featurizer *Featurizer
	cfg        Config
	now        func() time.Time
	logger     logger.Logger

	running sync.Mutex

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
}

// New creates a trainer deploying into handle.
func New(store Store, registry Registry, handle *ensemble.Handle, cfg Config, opts ...Option) *Trainer {
	t := &Trainer{
		store:      store,
		registry:   registry,
		handle:     handle,
		policy:     NewPolicy(store, cfg.Policy),
		featurizer: NewFeaturizer(cfg.CriteriaWeights, cfg.Collaborative, cfg.HistoryLimit),
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Get().Named("trainer"),
		status:     Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins a background run and returns its id. The run outlives ctx;
// use Cancel to stop it.
func (t *Trainer) Start(ctx context.Context, req Request) (string, error) {
	if !t.running.TryLock() {
		return "", ErrTrainingInProgress
	}
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.begin(runID, cancel)
	go func() {
		defer t.running.Unlock()
		defer cancel()
		_ = t.execute(runCtx, runID, req)
	}()
	return runID, nil
}

// Run trains synchronously and returns the recorded history row.
func (t *Trainer) Run(ctx context.Context, req Request) (model.ModelTrainingHistory, error) {
	if !t.running.TryLock() {
		return model.ModelTrainingHistory{}, ErrTrainingInProgress
	}
	defer t.running.Unlock()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runID := uuid.NewString()
	t.begin(runID, cancel)
	h := t.execute(runCtx, runID, req)
	return h, nil
}

// Cancel stops the active run. The deployed model is never touched by a
// cancelled run.
func (t *Trainer) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil || t.status.State != StateRunning {
		return ErrNoActiveTraining
	}
	t.status.Message = "cancelling"
	t.cancel()
	return nil
}

// Status returns the current or last run.
func (t *Trainer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// ValidateData runs the quality gates over the last monthsBack months.
func (t *Trainer) ValidateData(ctx context.Context, monthsBack int) (Report, error) {
	rows, err := t.store.ListTrainingData(ctx, since(t.now(), monthsBack))
	if err != nil {
		return Report{}, fmt.Errorf("list training data: %w", err)
	}
	return Validate(rows, t.cfg.Quality), nil
}

// FeatureImportance of the live model, nil on cold start.
func (t *Trainer) FeatureImportance() map[string]float64 {
	if m := t.handle.Load(); m != nil {
		return m.FeatureImportance()
	}
	return nil
}

func since(now time.Time, monthsBack int) time.Time {
	if monthsBack <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, -monthsBack, 0)
}

func (t *Trainer) begin(runID string, cancel context.CancelFunc) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
	t.status = Status{
		RunID:       runID,
		State:       StateRunning,
		Message:     "started",
		StartedAt:   &now,
		LastVersion: t.status.LastVersion,
		LastOutcome: t.status.LastOutcome,
	}
}

func (t *Trainer) progress(pct int, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Progress = pct
	t.status.Message = msg
}

func (t *Trainer) finish(h *model.ModelTrainingHistory, state string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = nil
	t.status.State = state
	t.status.Progress = 100
	t.status.FinishedAt = &now
	t.status.LastOutcome = h.DeploymentStatus.String()
	if h.ErrorMessage != "" {
		t.status.Message = h.ErrorMessage
	} else {
		t.status.Message = strings.ToLower(h.DeploymentStatus.String())
	}
	if h.DeploymentStatus == model.DeploymentDeployed {
		t.status.LastVersion = h.ModelVersion
	}
}

// outcome is what a run decided before its history row is written.
type outcome struct {
	status model.DeploymentStatus
	err    error
	model  *ensemble.Model
}

// execute performs one run and always appends exactly one history row.
func (t *Trainer) execute(ctx context.Context, runID string, req Request) model.ModelTrainingHistory {
	start := t.now().UTC()
	t.publishStatus(ctx, runID, StateRunning, "")
	t.logger.Info(ctx, "training run started",
		logger.String("runID", runID),
		logger.Bool("force", req.ForceRetrain),
		logger.Bool("synthetic", req.UseSynthetic),
		logger.Bool("shadow", req.Shadow),
	)

	h := model.ModelTrainingHistory{RunID: runID, TrainedAt: start, AdditionalMetrics: map[string]float64{}}
	out := t.train(ctx, req, &h)

	cancelled := ctx.Err() != nil && out.status != model.DeploymentDeployed
	if cancelled {
		out = outcome{status: model.DeploymentFailed, err: ErrCancelled}
	}
	h.DeploymentStatus = out.status
	if out.err != nil {
		h.ErrorMessage = out.err.Error()
	}
	h.DurationSeconds = t.now().Sub(start).Seconds()

	// A deployed run already wrote its row before swapping.
	if out.status != model.DeploymentDeployed {
		if err := t.store.AppendHistory(context.WithoutCancel(ctx), &h); err != nil {
			t.logger.Error(ctx, "training history not recorded", logger.String("runID", runID), logger.Error(err))
		}
	}

	state := StateCompleted
	switch {
	case cancelled:
		state = StateCancelled
	case out.status == model.DeploymentFailed:
		state = StateFailed
	}
	metrics.RecordTrainingRun(h.DeploymentStatus.String(), h.DurationSeconds)
	t.finish(&h, state)
	t.publishStatus(ctx, runID, h.DeploymentStatus.String(), h.ErrorMessage)
	t.logger.Info(ctx, "training run finished",
		logger.String("runID", runID),
		logger.String("status", h.DeploymentStatus.String()),
		logger.String("version", h.ModelVersion),
		logger.Float64("accuracy", h.Accuracy),
		logger.Float64("f1", h.F1Score),
		logger.String("error", h.ErrorMessage),
	)
	return h
}

func (t *Trainer) train(ctx context.Context, req Request, h *model.ModelTrainingHistory) outcome {
	now := t.now()
	if !req.ForceRetrain {
		t.progress(5, "checking retrain policy")
		d, err := t.policy.Evaluate(ctx, now)
		if err != nil {
			return outcome{status: model.DeploymentFailed, err: err}
		}
		if !d.Retrain {
			return outcome{status: model.DeploymentSkipped, err: fmt.Errorf("retrain not needed: %s", d.Reason)}
		}
		t.logger.Info(ctx, "retrain triggered", logger.String("reason", d.Reason))
	}

	t.progress(15, "loading training data")
	rows, err := t.store.ListTrainingData(ctx, since(now, req.MonthsBack))
	if err != nil {
		return outcome{status: model.DeploymentFailed, err: fmt.Errorf("list training data: %w", err)}
	}
	if req.UseSynthetic && len(rows) < t.cfg.Quality.MinRows {
		n := t.cfg.Quality.MinRows - len(rows)
		if t.cfg.SyntheticRows > 0 && n > t.cfg.SyntheticRows {
			n = t.cfg.SyntheticRows
		}
		rows = append(rows, Generate(n, t.cfg.Forest.Seed, now.UTC())...)
		h.AdditionalMetrics["synthetic_rows"] = float64(n)
	}

	t.progress(25, "validating data quality")
	report := Validate(rows, t.cfg.Quality)
	h.AdditionalMetrics["null_ratio"] = report.NullRatio
	h.AdditionalMetrics["positive_ratio"] = report.PositiveRatio
	if !report.Valid {
		return outcome{status: model.DeploymentFailed, err: fmt.Errorf("%w: %s", ErrInsufficientData, strings.Join(report.Issues, "; "))}
	}
	if err := ctx.Err(); err != nil {
		return outcome{status: model.DeploymentFailed, err: err}
	}

	t.progress(35, "building features")
	X, y, dropped := t.featurizer.Dataset(rows, t.cfg.Quality.LabelThreshold)
	h.AdditionalMetrics["dropped_rows"] = float64(dropped)
	trainIdx, valIdx := Split(y, t.cfg.ValidationSplit, t.cfg.Forest.Seed)
	if len(trainIdx) == 0 || len(valIdx) == 0 {
		return outcome{status: model.DeploymentFailed, err: fmt.Errorf("%w: empty train or validation split", ErrInsufficientData)}
	}
	Xtr, ytr := pick(X, y, trainIdx)
	Xval, yval := pick(X, y, valIdx)
	h.TrainingRecords = len(trainIdx)
	h.ValidationRecords = len(valIdx)

	t.progress(45, "fitting forest")
	version := fmt.Sprintf("v%s-%s", now.UTC().Format("20060102T150405"), h.RunID[:8])
	m, err := ensemble.Fit(ctx, version, features.FeatureNames(), Xtr, ytr, t.cfg.Forest)
	if err != nil {
		return outcome{status: model.DeploymentFailed, err: fmt.Errorf("fit: %w", err)}
	}

	t.progress(80, "evaluating")
	mt, err := ensemble.Evaluate(m, Xval, yval)
	if err != nil {
		return outcome{status: model.DeploymentFailed, err: fmt.Errorf("evaluate: %w", err)}
	}
	m = m.WithMetrics(mt)
	h.ModelVersion = version
	h.Accuracy, h.Precision, h.Recall, h.F1Score = mt.Accuracy, mt.Precision, mt.Recall, mt.F1

	deploy := true
	switch current, err := t.store.LatestDeployed(ctx); {
	case errors.Is(err, model.ErrNotFound):
	case err != nil:
		return outcome{status: model.DeploymentFailed, err: fmt.Errorf("latest deployed: %w", err)}
	default:
		h.AccuracyImprovement = mt.Accuracy - current.Accuracy
		h.F1Improvement = mt.F1 - current.F1Score
		tol := t.cfg.RegressionTolerance
		deploy = h.AccuracyImprovement >= -tol && h.F1Improvement >= -tol
	}
	if err := ctx.Err(); err != nil {
		return outcome{status: model.DeploymentFailed, err: err}
	}

	t.progress(90, "storing artifact")
	switch {
	case req.Shadow:
		if err := t.registry.Save(ctx, m); err != nil {
			return outcome{status: model.DeploymentFailed, err: fmt.Errorf("save artifact: %w", err)}
		}
		return outcome{status: model.DeploymentTesting, model: m}
	case !deploy:
		return outcome{status: model.DeploymentSkipped, err: fmt.Errorf(
			"regression beyond tolerance: accuracy %+.3f, f1 %+.3f", h.AccuracyImprovement, h.F1Improvement)}
	}
	return t.deploy(ctx, m, h)
}

// deploy saves the artifact, records the run, then swaps the live model.
// Every failure before the swap leaves the previous model serving.
func (t *Trainer) deploy(ctx context.Context, m *ensemble.Model, h *model.ModelTrainingHistory) outcome {
	if err := t.registry.Save(ctx, m); err != nil {
		return outcome{status: model.DeploymentFailed, err: fmt.Errorf("save artifact: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return outcome{status: model.DeploymentFailed, err: err}
	}
	h.DeploymentStatus = model.DeploymentDeployed
	h.DurationSeconds = t.now().Sub(h.TrainedAt).Seconds()
	if err := t.store.AppendHistory(context.WithoutCancel(ctx), h); err != nil {
		h.DeploymentStatus = model.DeploymentUnknown
		return outcome{status: model.DeploymentFailed, err: fmt.Errorf("record deployment: %w", err)}
	}
	if err := t.registry.SetDeployed(context.WithoutCancel(ctx), m.Version()); err != nil {
		t.logger.Warn(ctx, "registry deployed pointer not updated", logger.String("version", m.Version()), logger.Error(err))
	}
	t.handle.Swap(m)
	mt := m.Metrics()
	metrics.RecordModelSwap(mt.Accuracy, mt.F1)
	if t.publisher != nil {
		if err := t.publisher.PublishModelUpdated(context.WithoutCancel(ctx), m.Version(), mt, t.now().UTC()); err != nil {
			t.logger.Warn(ctx, "model update not published", logger.Error(err))
		}
	}
	return outcome{status: model.DeploymentDeployed, model: m}
}

func (t *Trainer) publishStatus(ctx context.Context, runID, status, details string) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishTrainingStatus(context.WithoutCancel(ctx), runID, status, details); err != nil {
		t.logger.Warn(ctx, "training status not published", logger.String("runID", runID), logger.Error(err))
	}
}
