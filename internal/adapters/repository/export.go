package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/okian/assignml/internal/domain/model"
)

// TrainingRow is the flat, columnar form of a TrainingData row used for export.
type TrainingRow struct {
	ID                   int64      `parquet:"id,snappy"`
	SourceEventID        string     `parquet:"source_event_id,snappy"`
	TaskID               string     `parquet:"task_id,snappy"`
	UserID               string     `parquet:"user_id,snappy"`
	TaskType             string     `parquet:"task_type,snappy"`
	TaskDepartment       string     `parquet:"task_department,snappy"`
	Priority             string     `parquet:"priority,snappy"`
	Difficulty           string     `parquet:"difficulty,snappy"`
	EstimatedHours       float64    `parquet:"estimated_hours,snappy"`
	RequiredSkills       int32      `parquet:"required_skills,snappy"`
	Department           string     `parquet:"department,snappy"`
	Seniority            string     `parquet:"seniority,snappy"`
	CandidateSkills      int32      `parquet:"candidate_skills,snappy"`
	ActualHours          *float64   `parquet:"actual_hours,optional,snappy"`
	QualityScore         *float64   `parquet:"quality_score,optional,snappy"`
	TimeEfficiency       *float64   `parquet:"time_efficiency,optional,snappy"`
	TaskStatus           string     `parquet:"task_status,snappy"`
	PerformanceScore     float64    `parquet:"performance_score,snappy"`
	AssignmentMethod     string     `parquet:"assignment_method,snappy"`
	PredictionConfidence *float64   `parquet:"prediction_confidence,optional,snappy"`
	RecommendationRank   int32      `parquet:"recommendation_rank,snappy"`
	AssignedAt           *time.Time `parquet:"assigned_at,optional,snappy"`
	CompletedAt          time.Time  `parquet:"completed_at,snappy"`
	DataSource           string     `parquet:"data_source,snappy"`
	CreatedAt            time.Time  `parquet:"created_at,snappy"`
}

// ToTrainingRow flattens r.
func ToTrainingRow(r model.TrainingData) TrainingRow {
	return TrainingRow{
		ID:                   r.ID,
		SourceEventID:        r.SourceEventID,
		TaskID:               r.TaskID,
		UserID:               r.UserID,
		TaskType:             r.Task.TaskType,
		TaskDepartment:       r.Task.Department,
		Priority:             r.Task.Priority.String(),
		Difficulty:           r.Task.Difficulty.String(),
		EstimatedHours:       r.Task.EstimatedHours,
		RequiredSkills:       int32(len(r.Task.RequiredSkills)),
		Department:           r.Candidate.Department,
		Seniority:            r.Candidate.Seniority.String(),
		CandidateSkills:      int32(len(r.Candidate.Skills)),
		ActualHours:          r.ActualHours,
		QualityScore:         r.QualityScore,
		TimeEfficiency:       r.TimeEfficiency,
		TaskStatus:           r.TaskStatus.String(),
		PerformanceScore:     r.PerformanceScore,
		AssignmentMethod:     r.AssignmentMethod.String(),
		PredictionConfidence: r.PredictionConfidence,
		RecommendationRank:   int32(r.RecommendationRank),
		AssignedAt:           r.AssignedAt,
		CompletedAt:          r.CompletedAt,
		DataSource:           r.DataSource,
		CreatedAt:            r.CreatedAt,
	}
}

// WriteTrainingParquet writes rows to w as a Parquet file and returns how many were written.
func WriteTrainingParquet(w io.Writer, rows []model.TrainingData) (int, error) {
	flat := make([]TrainingRow, len(rows))
	for i := range rows {
		flat[i] = ToTrainingRow(rows[i])
	}
	writer := parquet.NewGenericWriter[TrainingRow](w)
	n, err := writer.Write(flat)
	if err != nil {
		_ = writer.Close()
		return n, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("close parquet writer: %w", err)
	}
	return n, nil
}

// ExportTrainingData writes every row created at or after since to path.
func ExportTrainingData(ctx context.Context, store TrainingDataStore, since time.Time, path string) (int, error) {
	rows, err := store.ListTrainingData(ctx, since)
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := WriteTrainingParquet(file, rows)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return n, err
}
