package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/okian/assignml/internal/domain/model"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// SQLStore implements Store on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects to driver ("sqlite" or "postgres"), migrates the schema to
// the latest version and returns the store. An empty SQLite dsn opens an
// in-memory database.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := OpenDB(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(db, driver, LatestVersion); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLStore(db, driver), nil
}

// OpenDB opens and pings the database without touching the schema.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case dialectSQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
		}
		// A single connection avoids "database is locked" and keeps :memory: shared.
		db.SetMaxOpenConns(1)
	case dialectPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}
	return db, nil
}

// NewSQLStore wraps an already migrated database.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

// Timestamps are stored as UTC unix nanoseconds; zero time is 0.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Events.

const eventColumns = `event_id, event_type, topic, task_id, user_id, record, processed, received_at, processed_at`

func (s *SQLStore) SaveEvent(ctx context.Context, ev model.MLTrainingEvent) error {
	record, err := json.Marshal(ev.Record)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.EventID, err)
	}
	res, err := s.exec(ctx, `INSERT INTO ml_training_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL) ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.EventType.String(), ev.Topic, ev.TaskID, ev.UserID, string(record), false, nanos(ev.ReceivedAt))
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.EventID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *SQLStore) LatestAssignment(ctx context.Context, taskID, userID string) (model.MLTrainingEvent, error) {
	row := s.queryRow(ctx, `SELECT `+eventColumns+` FROM ml_training_events
		WHERE task_id = ? AND user_id = ? AND event_type = ? AND processed = ?
		ORDER BY received_at DESC LIMIT 1`,
		taskID, userID, model.EventTaskAssignment.String(), false)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MLTrainingEvent{}, ErrNotFound
	}
	return ev, err
}

func scanEvent(row *sql.Row) (model.MLTrainingEvent, error) {
	var (
		ev          model.MLTrainingEvent
		eventType   string
		record      string
		receivedAt  int64
		processedAt sql.NullInt64
	)
	if err := row.Scan(&ev.EventID, &eventType, &ev.Topic, &ev.TaskID, &ev.UserID, &record, &ev.Processed, &receivedAt, &processedAt); err != nil {
		return ev, err
	}
	ev.EventType = model.ParseEventType(eventType)
	ev.ReceivedAt = fromNanos(receivedAt)
	ev.ProcessedAt = timePtr(processedAt)
	if err := json.Unmarshal([]byte(record), &ev.Record); err != nil {
		return ev, fmt.Errorf("decode event %s: %w", ev.EventID, err)
	}
	return ev, nil
}

func (s *SQLStore) MarkProcessed(ctx context.Context, at time.Time, eventIDs ...string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(`UPDATE ml_training_events SET processed = ?, processed_at = ? WHERE event_id = ? AND processed = ?`)
	for _, id := range eventIDs {
		if _, err := tx.ExecContext(ctx, q, true, nanos(at), id, false); err != nil {
			return fmt.Errorf("mark event %s processed: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) EventCounts(ctx context.Context) (int, int, error) {
	var total, unprocessed int
	err := s.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN processed THEN 0 ELSE 1 END), 0) FROM ml_training_events`).
		Scan(&total, &unprocessed)
	if err != nil {
		return 0, 0, fmt.Errorf("count events: %w", err)
	}
	return total, unprocessed, nil
}

// Training data.

func (s *SQLStore) SaveTrainingData(ctx context.Context, row *model.TrainingData) error {
	ensureSourceID(row)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode training row: %w", err)
	}
	var id int64
	err = s.queryRow(ctx, `INSERT INTO training_data
		(source_event_id, task_id, user_id, task_type, performance_score, data_source, payload, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (source_event_id) DO NOTHING RETURNING id`,
		row.SourceEventID, row.TaskID, row.UserID, normalizeTaskType(row.Task.TaskType), row.PerformanceScore, row.DataSource,
		string(payload), nanos(row.CompletedAt), nanos(row.CreatedAt)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("save training row: %w", err)
	}
	row.ID = id
	return nil
}

func (s *SQLStore) ListTrainingData(ctx context.Context, since time.Time) ([]model.TrainingData, error) {
	rows, err := s.query(ctx, `SELECT id, payload, created_at FROM training_data WHERE created_at >= ? ORDER BY id`, nanos(since))
	if err != nil {
		return nil, fmt.Errorf("list training data: %w", err)
	}
	return scanTrainingRows(rows)
}

func (s *SQLStore) SimilarHistory(ctx context.Context, taskType string, limit int) ([]model.TrainingData, error) {
	q := `SELECT id, payload, created_at FROM training_data`
	var args []any
	if taskType = normalizeTaskType(taskType); taskType != "" {
		q += ` WHERE LOWER(TRIM(task_type)) = ? OR TRIM(task_type) = ''`
		args = append(args, taskType)
	}
	q += ` ORDER BY completed_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("similar history: %w", err)
	}
	return scanTrainingRows(rows)
}

func scanTrainingRows(rows *sql.Rows) ([]model.TrainingData, error) {
	defer func() { _ = rows.Close() }()
	var out []model.TrainingData
	for rows.Next() {
		var (
			id        int64
			payload   string
			createdAt int64
			row       model.TrainingData
		)
		if err := rows.Scan(&id, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan training row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &row); err != nil {
			return nil, fmt.Errorf("decode training row %d: %w", id, err)
		}
		row.ID = id
		row.CreatedAt = fromNanos(createdAt)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountTrainingData(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM training_data WHERE created_at >= ?`, nanos(since)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count training data: %w", err)
	}
	return n, nil
}

// Training history.

const historyColumns = `id, run_id, model_version, deployment_status, trained_at, accuracy, f1_score,
	precision_score, recall, accuracy_improvement, f1_improvement, training_records, validation_records,
	duration_seconds, error_message, additional_metrics`

func (s *SQLStore) AppendHistory(ctx context.Context, h *model.ModelTrainingHistory) error {
	extra, err := json.Marshal(h.AdditionalMetrics)
	if err != nil {
		return fmt.Errorf("encode history metrics: %w", err)
	}
	var id int64
	err = s.queryRow(ctx, `INSERT INTO model_training_history
		(run_id, model_version, deployment_status, trained_at, accuracy, f1_score, precision_score, recall,
		 accuracy_improvement, f1_improvement, training_records, validation_records, duration_seconds,
		 error_message, additional_metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		h.RunID, h.ModelVersion, h.DeploymentStatus.String(), nanos(h.TrainedAt), h.Accuracy, h.F1Score,
		h.Precision, h.Recall, h.AccuracyImprovement, h.F1Improvement, h.TrainingRecords, h.ValidationRecords,
		h.DurationSeconds, h.ErrorMessage, string(extra)).Scan(&id)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	h.ID = id
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(sc scanner) (model.ModelTrainingHistory, error) {
	var (
		h         model.ModelTrainingHistory
		status    string
		trainedAt int64
		extra     string
	)
	err := sc.Scan(&h.ID, &h.RunID, &h.ModelVersion, &status, &trainedAt, &h.Accuracy, &h.F1Score,
		&h.Precision, &h.Recall, &h.AccuracyImprovement, &h.F1Improvement, &h.TrainingRecords,
		&h.ValidationRecords, &h.DurationSeconds, &h.ErrorMessage, &extra)
	if err != nil {
		return h, err
	}
	h.DeploymentStatus = model.ParseDeploymentStatus(status)
	h.TrainedAt = fromNanos(trainedAt)
	if extra != "" && extra != "null" {
		if err := json.Unmarshal([]byte(extra), &h.AdditionalMetrics); err != nil {
			return h, fmt.Errorf("decode history %d metrics: %w", h.ID, err)
		}
	}
	return h, nil
}

func (s *SQLStore) LatestHistory(ctx context.Context) (model.ModelTrainingHistory, error) {
	h, err := scanHistory(s.queryRow(ctx, `SELECT `+historyColumns+` FROM model_training_history ORDER BY id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	return h, err
}

func (s *SQLStore) LatestDeployed(ctx context.Context) (model.ModelTrainingHistory, error) {
	h, err := scanHistory(s.queryRow(ctx, `SELECT `+historyColumns+` FROM model_training_history
		WHERE deployment_status = ? ORDER BY id DESC LIMIT 1`, model.DeploymentDeployed.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	return h, err
}

func (s *SQLStore) ListHistory(ctx context.Context, since time.Time, offset, limit int) ([]model.ModelTrainingHistory, int, error) {
	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM model_training_history WHERE trained_at >= ?`, nanos(since)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}
	if limit <= 0 {
		limit = total
	}
	rows, err := s.query(ctx, `SELECT `+historyColumns+` FROM model_training_history
		WHERE trained_at >= ? ORDER BY id DESC LIMIT ? OFFSET ?`, nanos(since), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []model.ModelTrainingHistory{}
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, total, rows.Err()
}

// Prediction logs.

const predictionColumns = `id, task_id, user_id, model_version, prediction_type, confidence_score, content_score,
	collaborative_score, mcda_score, rf_prediction_score, rf_confidence, predicted_success, actual_success,
	prediction_accuracy, recommendation_rank, was_selected, prediction_date, feedback_date`

func (s *SQLStore) SavePredictions(ctx context.Context, logs ...model.PredictionLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(`INSERT INTO prediction_logs (` + predictionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`)
	for _, p := range logs {
		res, err := tx.ExecContext(ctx, q, p.ID, p.TaskID, p.UserID, p.ModelVersion, p.PredictionType.String(),
			p.ConfidenceScore, p.ContentScore, p.CollaborativeScore, p.MCDAScore, p.RFPredictionScore,
			p.RFConfidence, p.PredictedSuccess, nullBool(p.ActualSuccess), nullFloat(p.PredictionAccuracy),
			p.RecommendationRank, p.WasSelected, nanos(p.PredictionDate), nullNanos(p.FeedbackDate))
		if err != nil {
			return fmt.Errorf("save prediction %s: %w", p.ID, err)
		}
		if n, err := affected(res); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("prediction %s: %w", p.ID, ErrDuplicate)
		}
	}
	return tx.Commit()
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func scanPrediction(sc scanner) (model.PredictionLog, error) {
	var (
		p            model.PredictionLog
		predType     string
		actual       sql.NullBool
		accuracy     sql.NullFloat64
		predictedAt  int64
		feedbackDate sql.NullInt64
	)
	err := sc.Scan(&p.ID, &p.TaskID, &p.UserID, &p.ModelVersion, &predType, &p.ConfidenceScore, &p.ContentScore,
		&p.CollaborativeScore, &p.MCDAScore, &p.RFPredictionScore, &p.RFConfidence, &p.PredictedSuccess,
		&actual, &accuracy, &p.RecommendationRank, &p.WasSelected, &predictedAt, &feedbackDate)
	if err != nil {
		return p, err
	}
	p.PredictionType = model.ParsePredictionType(predType)
	if actual.Valid {
		p.ActualSuccess = model.Bool(actual.Bool)
	}
	if accuracy.Valid {
		p.PredictionAccuracy = model.Float(accuracy.Float64)
	}
	p.PredictionDate = fromNanos(predictedAt)
	p.FeedbackDate = timePtr(feedbackDate)
	return p, nil
}

func (s *SQLStore) LatestPrediction(ctx context.Context, taskID, userID string) (model.PredictionLog, error) {
	p, err := scanPrediction(s.queryRow(ctx, `SELECT `+predictionColumns+` FROM prediction_logs
		WHERE task_id = ? AND user_id = ? ORDER BY prediction_date DESC LIMIT 1`, taskID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (s *SQLStore) RecordFeedback(ctx context.Context, p model.PredictionLog) error {
	res, err := s.exec(ctx, `UPDATE prediction_logs SET actual_success = ?, prediction_accuracy = ?, feedback_date = ?
		WHERE id = ? AND actual_success IS NULL`,
		nullBool(p.ActualSuccess), nullFloat(p.PredictionAccuracy), nullNanos(p.FeedbackDate), p.ID)
	if err != nil {
		return fmt.Errorf("record feedback %s: %w", p.ID, err)
	}
	n, err := affected(res)
	if err != nil || n > 0 {
		return err
	}
	var one int
	err = s.queryRow(ctx, `SELECT 1 FROM prediction_logs WHERE id = ?`, p.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("record feedback %s: %w", p.ID, err)
	}
	return ErrConflict
}

func (s *SQLStore) MarkSelected(ctx context.Context, taskID, userID string) error {
	res, err := s.exec(ctx, `UPDATE prediction_logs SET was_selected = ? WHERE id = (
		SELECT id FROM prediction_logs WHERE task_id = ? AND user_id = ? ORDER BY prediction_date DESC LIMIT 1)`,
		true, taskID, userID)
	if err != nil {
		return fmt.Errorf("mark selected: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) FeedbackAccuracy(ctx context.Context, since time.Time) (float64, int, error) {
	var (
		avg float64
		n   int
	)
	err := s.queryRow(ctx, `SELECT COALESCE(AVG(prediction_accuracy), 0), COUNT(prediction_accuracy) FROM prediction_logs
		WHERE feedback_date >= ? AND prediction_accuracy IS NOT NULL`, nanos(since)).Scan(&avg, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("feedback accuracy: %w", err)
	}
	return avg, n, nil
}
