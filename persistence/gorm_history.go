package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/taskflow/engine"
	"gorm.io/gorm"
)

// RunRecord 是一次运行的持久化摘要行。
type RunRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunID       string    `gorm:"size:64;not null;uniqueIndex:idx_run" json:"run_id"`
	GraphName   string    `gorm:"size:200;index:idx_graph" json:"graph_name"`
	Reason      string    `gorm:"size:40;not null" json:"reason"`
	FailedNode  string    `gorm:"size:200" json:"failed_node"`
	Steps       int       `gorm:"default:0" json:"steps"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DurationMS  int64     `gorm:"default:0" json:"duration_ms"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	NodeRecords []NodeRecord `gorm:"foreignKey:RunRecordID" json:"node_records,omitempty"`
}

// NodeRecord 是运行中单个节点尝试的持久化行。
type NodeRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunRecordID uint      `gorm:"not null;index:idx_run_record" json:"run_record_id"`
	RunID       string    `gorm:"size:64;not null;index:idx_node_run" json:"run_id"`
	NodeID      string    `gorm:"size:200;not null" json:"node_id"`
	ParentID    string    `gorm:"size:200" json:"parent_id"`
	Attempt     int       `gorm:"default:1" json:"attempt"`
	Status      string    `gorm:"size:20;not null" json:"status"`
	Source      string    `gorm:"size:40" json:"source"`
	OutcomeKey  string    `gorm:"size:100" json:"outcome_key"`
	Feedback    string    `gorm:"type:text" json:"feedback"`
	Error       string    `gorm:"type:text" json:"error"`
	Output      string    `gorm:"type:text" json:"output"`
	Fields      string    `gorm:"type:text" json:"fields"` // JSON encoded structured fields
	Timestamp   time.Time `json:"timestamp"`
}

// TableName 指定表名。
func (RunRecord) TableName() string { return "taskflow_runs" }

// TableName 指定表名。
func (NodeRecord) TableName() string { return "taskflow_node_results" }

// GormHistoryStore persists run summaries through GORM. It works with any
// dialector the caller opens (SQLite, PostgreSQL, MySQL).
type GormHistoryStore struct {
	db *gorm.DB
}

// NewGormHistoryStore wraps an open *gorm.DB and migrates the history tables.
func NewGormHistoryStore(db *gorm.DB) (*GormHistoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm history store requires a database handle")
	}
	if err := db.AutoMigrate(&RunRecord{}, &NodeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history tables: %w", err)
	}
	return &GormHistoryStore{db: db}, nil
}

// SaveRun persists a completed run summary with one row per recorded attempt.
func (s *GormHistoryStore) SaveRun(ctx context.Context, summary *engine.RunSummary) error {
	if summary == nil {
		return fmt.Errorf("nil run summary")
	}

	record := RunRecord{
		RunID:      summary.RunID,
		GraphName:  summary.GraphName,
		Reason:     string(summary.Reason),
		Steps:      summary.Steps,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		DurationMS: summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	}
	if summary.FirstFailure != nil {
		record.FailedNode = summary.FirstFailure.NodeID
	}

	for _, results := range summary.Results {
		for _, r := range results {
			row := NodeRecord{
				RunID:      summary.RunID,
				NodeID:     r.NodeID,
				ParentID:   r.ParentID,
				Attempt:    r.Attempt,
				Status:     string(r.Status),
				Source:     r.Source,
				OutcomeKey: r.OutcomeKey,
				Feedback:   r.Feedback,
				Error:      r.Error,
				Output:     r.Output.Text,
				Timestamp:  r.Timestamp,
			}
			if len(r.Output.Fields) > 0 {
				if data, err := json.Marshal(r.Output.Fields); err == nil {
					row.Fields = string(data)
				}
			}
			record.NodeRecords = append(record.NodeRecords, row)
		}
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

// LoadRun returns the persisted record for runID.
func (s *GormHistoryStore) LoadRun(ctx context.Context, runID string) (*RunRecord, error) {
	var record RunRecord
	err := s.db.WithContext(ctx).
		Preload("NodeRecords").
		Where("run_id = ?", runID).
		First(&record).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &record, nil
}

// ListRuns returns the most recent runs for a graph, newest first.
// Empty graphName lists across graphs.
func (s *GormHistoryStore) ListRuns(ctx context.Context, graphName string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Order("finished_at DESC").Limit(limit)
	if graphName != "" {
		query = query.Where("graph_name = ?", graphName)
	}
	var records []RunRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records, nil
}

// DeleteRun removes a run and its node rows.
func (s *GormHistoryStore) DeleteRun(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&NodeRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("run_id = ?", runID).Delete(&RunRecord{}).Error
	})
}
