package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/assignml/internal/domain/model"
)

// MemoryStore is an in-process Store used by default and in tests.
// Reads return copies so callers cannot mutate stored rows.
type MemoryStore struct {
	mu sync.RWMutex

	events      map[string]*model.MLTrainingEvent
	eventOrder  []string
	rows        []model.TrainingData
	rowBySource map[string]struct{}
	history     []model.ModelTrainingHistory
	predictions []model.PredictionLog
	predIndex   map[string]int
	nextRowID   int64
	nextHistID  int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string]*model.MLTrainingEvent),
		rowBySource: make(map[string]struct{}),
		predIndex:   make(map[string]int),
	}
}

func (s *MemoryStore) SaveEvent(_ context.Context, ev model.MLTrainingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.EventID]; ok {
		return ErrDuplicate
	}
	ev.Processed = false
	ev.ProcessedAt = nil
	s.events[ev.EventID] = &ev
	s.eventOrder = append(s.eventOrder, ev.EventID)
	return nil
}

func (s *MemoryStore) LatestAssignment(_ context.Context, taskID, userID string) (model.MLTrainingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.eventOrder) - 1; i >= 0; i-- {
		ev := s.events[s.eventOrder[i]]
		if ev.EventType == model.EventTaskAssignment && !ev.Processed && ev.TaskID == taskID && ev.UserID == userID {
			return *ev, nil
		}
	}
	return model.MLTrainingEvent{}, ErrNotFound
}

func (s *MemoryStore) MarkProcessed(_ context.Context, at time.Time, eventIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range eventIDs {
		if ev, ok := s.events[id]; ok && !ev.Processed {
			t := at
			ev.Processed = true
			ev.ProcessedAt = &t
		}
	}
	return nil
}

func (s *MemoryStore) EventCounts(_ context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unprocessed := 0
	for _, ev := range s.events {
		if !ev.Processed {
			unprocessed++
		}
	}
	return len(s.events), unprocessed, nil
}

func (s *MemoryStore) SaveTrainingData(_ context.Context, row *model.TrainingData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureSourceID(row)
	if _, ok := s.rowBySource[row.SourceEventID]; ok {
		return ErrDuplicate
	}
	s.rowBySource[row.SourceEventID] = struct{}{}
	s.nextRowID++
	row.ID = s.nextRowID
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	s.rows = append(s.rows, *row)
	return nil
}

func (s *MemoryStore) ListTrainingData(_ context.Context, since time.Time) ([]model.TrainingData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TrainingData, 0, len(s.rows))
	for _, r := range s.rows {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) SimilarHistory(_ context.Context, taskType string, limit int) ([]model.TrainingData, error) {
	taskType = normalizeTaskType(taskType)
	s.mu.RLock()
	var out []model.TrainingData
	for _, r := range s.rows {
		tt := normalizeTaskType(r.Task.TaskType)
		if taskType == "" || tt == "" || tt == taskType {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountTrainingData(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rows {
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, h *model.ModelTrainingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHistID++
	h.ID = s.nextHistID
	s.history = append(s.history, *h)
	return nil
}

func (s *MemoryStore) LatestHistory(_ context.Context) (model.ModelTrainingHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return model.ModelTrainingHistory{}, ErrNotFound
	}
	return s.history[len(s.history)-1], nil
}

func (s *MemoryStore) LatestDeployed(_ context.Context) (model.ModelTrainingHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].DeploymentStatus == model.DeploymentDeployed {
			return s.history[i], nil
		}
	}
	return model.ModelTrainingHistory{}, ErrNotFound
}

func (s *MemoryStore) ListHistory(_ context.Context, since time.Time, offset, limit int) ([]model.ModelTrainingHistory, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []model.ModelTrainingHistory
	for i := len(s.history) - 1; i >= 0; i-- {
		if !s.history[i].TrainedAt.Before(since) {
			matched = append(matched, s.history[i])
		}
	}
	total := len(matched)
	if offset >= total {
		return []model.ModelTrainingHistory{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) SavePredictions(_ context.Context, logs ...model.PredictionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range logs {
		if _, ok := s.predIndex[p.ID]; ok {
			return ErrDuplicate
		}
		s.predIndex[p.ID] = len(s.predictions)
		s.predictions = append(s.predictions, p)
	}
	return nil
}

func (s *MemoryStore) LatestPrediction(_ context.Context, taskID, userID string) (model.PredictionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.latestPrediction(taskID, userID); i >= 0 {
		return s.predictions[i], nil
	}
	return model.PredictionLog{}, ErrNotFound
}

// latestPrediction must be called with s.mu held.
func (s *MemoryStore) latestPrediction(taskID, userID string) int {
	best := -1
	for i := range s.predictions {
		p := &s.predictions[i]
		if p.TaskID != taskID || p.UserID != userID {
			continue
		}
		if best < 0 || !p.PredictionDate.Before(s.predictions[best].PredictionDate) {
			best = i
		}
	}
	return best
}

func (s *MemoryStore) RecordFeedback(_ context.Context, p model.PredictionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.predIndex[p.ID]
	if !ok {
		return ErrNotFound
	}
	cur := &s.predictions[i]
	if cur.HasFeedback() {
		return ErrConflict
	}
	cur.ActualSuccess = p.ActualSuccess
	cur.PredictionAccuracy = p.PredictionAccuracy
	cur.FeedbackDate = p.FeedbackDate
	return nil
}

func (s *MemoryStore) MarkSelected(_ context.Context, taskID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.latestPrediction(taskID, userID)
	if i < 0 {
		return ErrNotFound
	}
	s.predictions[i].WasSelected = true
	return nil
}

func (s *MemoryStore) FeedbackAccuracy(_ context.Context, since time.Time) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	n := 0
	for _, p := range s.predictions {
		if p.PredictionAccuracy == nil || p.FeedbackDate == nil || p.FeedbackDate.Before(since) {
			continue
		}
		sum += *p.PredictionAccuracy
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
