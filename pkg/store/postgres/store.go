// Package postgres implements a GORM-backed scheduler.TriggerStore, intended
// for use as a non-authoritative mirror layered under
// scheduler.WithMirror(primary, postgres.Store, onMirrorError) rather than as
// the scheduler's primary store: the in-memory store is always authoritative
// for dispatch-loop reads, and Postgres durability is best-effort on top.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tickforge/pkg/cronerrors"
	"tickforge/pkg/scheduler"
)

// triggerRow is the GORM-tagged row shape. Scheduler domain types
// (scheduler.Trigger, scheduler.Run) never carry storage tags themselves —
// mapping between the two lives entirely in this package, at the library
// boundary rather than the package boundary.
type triggerRow struct {
	ID            string `gorm:"primaryKey"`
	JobName       string `gorm:"index"`
	SpecKind      string
	AtRunAtMs     int64
	EveryPeriodMs int64
	EveryStartMs  *int64
	EveryEndMs    *int64
	NextRunAtMs   int64 `gorm:"index"`
	LastRunAtMs   *int64
	MisfirePolicy string
	MetadataJSON  []byte
	PayloadJSON   []byte
	State         string
	Generation    uint64
	UpdatedAt     time.Time
}

func (triggerRow) TableName() string { return "scheduler_triggers" }

type runRow struct {
	RunID        string `gorm:"primaryKey"`
	TriggerID    string `gorm:"index"`
	JobName      string `gorm:"index"`
	ScheduledAtMs int64
	StartedAtMs  *int64
	FinishedAtMs *int64
	Attempt      int
	Status       string
	ErrMessage   string
	ResultJSON   []byte
}

func (runRow) TableName() string { return "scheduler_runs" }

// Store is a GORM-backed scheduler.TriggerStore. Cron triggers cannot be
// round-tripped through SQL (their NextFunc is a closure wrapping
// robfig/cron/v3 state), so GetTrigger/ListTriggers return cron-kind rows
// with a nil Spec.Next; a caller relying on the Postgres mirror as primary
// for cron triggers must re-attach Next after load. This is acceptable for a
// mirror used for durability/observability, and is documented rather than
// worked around with a registry of parseable cron expressions the scheduler
// core doesn't otherwise need.
type Store struct {
	db *gorm.DB
}

// New opens a Postgres connection and migrates the mirror's schema.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store/postgres: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store/postgres: acquire sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&triggerRow{}, &runRow{}); err != nil {
		return nil, fmt.Errorf("store/postgres: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(t *scheduler.Trigger) (*triggerRow, error) {
	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(t.Payload)
	if err != nil {
		return nil, err
	}

	row := &triggerRow{
		ID:            t.ID,
		JobName:       t.JobName,
		SpecKind:      string(t.Spec.Kind),
		EveryPeriodMs: t.Spec.EveryPeriod.Milliseconds(),
		NextRunAtMs:   t.NextRunAt.UnixMilli(),
		MisfirePolicy: string(t.MisfirePolicy),
		MetadataJSON:  metaJSON,
		PayloadJSON:   payloadJSON,
		State:         string(t.State),
		Generation:    t.Generation,
		UpdatedAt:     time.Now(),
	}
	if t.Spec.Kind == scheduler.SpecAt {
		row.AtRunAtMs = t.Spec.AtRunAt.UnixMilli()
	}
	if t.Spec.EveryStart != nil {
		ms := t.Spec.EveryStart.UnixMilli()
		row.EveryStartMs = &ms
	}
	if t.Spec.EveryEnd != nil {
		ms := t.Spec.EveryEnd.UnixMilli()
		row.EveryEndMs = &ms
	}
	if t.LastRunAt != nil {
		ms := t.LastRunAt.UnixMilli()
		row.LastRunAtMs = &ms
	}
	return row, nil
}

func fromRow(row *triggerRow) (*scheduler.Trigger, error) {
	var metadata map[string]any
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &metadata); err != nil {
			return nil, err
		}
	}
	var payload any
	if len(row.PayloadJSON) > 0 {
		if err := json.Unmarshal(row.PayloadJSON, &payload); err != nil {
			return nil, err
		}
	}

	spec := scheduler.Spec{
		Kind:        scheduler.SpecKind(row.SpecKind),
		EveryPeriod: time.Duration(row.EveryPeriodMs) * time.Millisecond,
	}
	if spec.Kind == scheduler.SpecAt {
		spec.AtRunAt = time.UnixMilli(row.AtRunAtMs)
	}
	if row.EveryStartMs != nil {
		t := time.UnixMilli(*row.EveryStartMs)
		spec.EveryStart = &t
	}
	if row.EveryEndMs != nil {
		t := time.UnixMilli(*row.EveryEndMs)
		spec.EveryEnd = &t
	}

	t := &scheduler.Trigger{
		ID:            row.ID,
		JobName:       row.JobName,
		Spec:          spec,
		NextRunAt:     time.UnixMilli(row.NextRunAtMs),
		MisfirePolicy: scheduler.MisfirePolicy(row.MisfirePolicy),
		Metadata:      metadata,
		Payload:       payload,
		State:         scheduler.TriggerState(row.State),
		Generation:    row.Generation,
	}
	if row.LastRunAtMs != nil {
		lt := time.UnixMilli(*row.LastRunAtMs)
		t.LastRunAt = &lt
	}
	return t, nil
}

func (s *Store) UpsertTrigger(ctx context.Context, t *scheduler.Trigger) error {
	row, err := toRow(t)
	if err != nil {
		return fmt.Errorf("store/postgres: encode trigger: %w", err)
	}
	result := s.db.WithContext(ctx).Save(row)
	if result.Error != nil {
		return fmt.Errorf("store/postgres: upsert trigger: %w", result.Error)
	}
	return nil
}

func (s *Store) GetTrigger(ctx context.Context, id string) (*scheduler.Trigger, error) {
	var row triggerRow
	result := s.db.WithContext(ctx).First(&row, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, cronerrors.New(cronerrors.ENotFound, "trigger not found: "+id)
		}
		return nil, result.Error
	}
	return fromRow(&row)
}

func (s *Store) ListTriggers(ctx context.Context) ([]*scheduler.Trigger, error) {
	var rows []triggerRow
	if result := s.db.WithContext(ctx).Find(&rows); result.Error != nil {
		return nil, result.Error
	}
	out := make([]*scheduler.Trigger, 0, len(rows))
	for i := range rows {
		t, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&triggerRow{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return cronerrors.New(cronerrors.ENotFound, "trigger not found: "+id)
	}
	return nil
}

func (s *Store) RecordRun(ctx context.Context, r *scheduler.Run) error {
	row, err := toRunRow(r)
	if err != nil {
		return fmt.Errorf("store/postgres: encode run: %w", err)
	}
	if result := s.db.WithContext(ctx).Create(row); result.Error != nil {
		return fmt.Errorf("store/postgres: record run: %w", result.Error)
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, r *scheduler.Run) error {
	row, err := toRunRow(r)
	if err != nil {
		return fmt.Errorf("store/postgres: encode run: %w", err)
	}
	result := s.db.WithContext(ctx).Save(row)
	if result.Error != nil {
		return fmt.Errorf("store/postgres: update run: %w", result.Error)
	}
	return nil
}

func toRunRow(r *scheduler.Run) (*runRow, error) {
	resultJSON, err := json.Marshal(r.Result)
	if err != nil {
		return nil, err
	}
	row := &runRow{
		RunID:         r.RunID,
		TriggerID:     r.TriggerID,
		JobName:       r.JobName,
		ScheduledAtMs: r.ScheduledAt.UnixMilli(),
		Attempt:       r.Attempt,
		Status:        string(r.Status),
		ResultJSON:    resultJSON,
	}
	if r.Err != nil {
		row.ErrMessage = r.Err.Error()
	}
	if r.StartedAt != nil {
		ms := r.StartedAt.UnixMilli()
		row.StartedAtMs = &ms
	}
	if r.FinishedAt != nil {
		ms := r.FinishedAt.UnixMilli()
		row.FinishedAtMs = &ms
	}
	return row, nil
}

var _ scheduler.TriggerStore = (*Store)(nil)
