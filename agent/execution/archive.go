package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/crewplanner/internal/database"
	"github.com/BaSui01/crewplanner/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Archive 保存终态执行记录
type Archive interface {
	Save(ctx context.Context, records []Record) error
}

// archivedExecution crew_executions 表
type archivedExecution struct {
	ID           string `gorm:"primaryKey;size:64"`
	CrewName     string `gorm:"size:255;index"`
	Status       string `gorm:"size:16;index"`
	Progress     int
	CurrentAgent string    `gorm:"size:255"`
	CurrentTask  string    `gorm:"size:255"`
	CrewConfig   string    `gorm:"type:text"`
	Inputs       string    `gorm:"type:text"`
	Result       string    `gorm:"type:text"`
	Error        string    `gorm:"type:text"`
	Logs         string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
	CompletedAt  *time.Time
	ArchivedAt   time.Time
}

func (archivedExecution) TableName() string { return "crew_executions" }

// GormArchive 基于 gorm 的归档（postgres / mysql / sqlite）
type GormArchive struct {
	pool    *database.PoolManager
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewGormArchive 创建归档并自动迁移表结构
func NewGormArchive(ctx context.Context, pool *database.PoolManager, collector *metrics.Collector, logger *zap.Logger) (*GormArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().WithContext(ctx).AutoMigrate(&archivedExecution{}); err != nil {
		return nil, fmt.Errorf("migrate crew_executions: %w", err)
	}
	return &GormArchive{
		pool:    pool,
		metrics: collector,
		logger:  logger.With(zap.String("component", "execution_archive")),
	}, nil
}

// Save 按 ID upsert，重复归档同一记录是幂等的
func (a *GormArchive) Save(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]archivedExecution, 0, len(records))
	now := time.Now()
	for _, r := range records {
		row, err := toRow(r, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	start := time.Now()
	err := a.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, 100).Error
	})
	a.metrics.RecordDBQuery("archive_save", time.Since(start))
	if err != nil {
		return fmt.Errorf("save archived executions: %w", err)
	}
	a.logger.Debug("executions archived", zap.Int("count", len(rows)))
	return nil
}

// Get 读取一条归档记录
func (a *GormArchive) Get(ctx context.Context, id string) (Record, error) {
	var row archivedExecution
	start := time.Now()
	err := a.pool.DB().WithContext(ctx).First(&row, "id = ?", id).Error
	a.metrics.RecordDBQuery("archive_get", time.Since(start))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	return fromRow(row)
}

// List 按开始时间倒序列出归档记录
func (a *GormArchive) List(ctx context.Context, status Status, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := a.pool.DB().WithContext(ctx).Order("started_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []archivedExecution
	start := time.Now()
	err := q.Find(&rows).Error
	a.metrics.RecordDBQuery("archive_list", time.Since(start))
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRow(r Record, archivedAt time.Time) (archivedExecution, error) {
	enc := func(v any) (string, error) {
		if v == nil {
			return "", nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode execution %s: %w", r.ID, err)
		}
		return string(data), nil
	}
	row := archivedExecution{
		ID:           r.ID,
		CrewName:     r.CrewName(),
		Status:       string(r.Status),
		Progress:     r.Progress,
		CurrentAgent: r.CurrentAgent,
		CurrentTask:  r.CurrentTask,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		UpdatedAt:    r.UpdatedAt,
		CompletedAt:  r.CompletedAt,
		ArchivedAt:   archivedAt,
	}
	var err error
	if row.CrewConfig, err = enc(r.CrewConfig); err != nil {
		return row, err
	}
	if row.Inputs, err = enc(r.Inputs); err != nil {
		return row, err
	}
	if row.Result, err = enc(r.Result); err != nil {
		return row, err
	}
	if row.Logs, err = enc(r.Logs); err != nil {
		return row, err
	}
	return row, nil
}

func fromRow(row archivedExecution) (Record, error) {
	rec := Record{
		ID:           row.ID,
		Status:       Status(row.Status),
		Progress:     row.Progress,
		CurrentAgent: row.CurrentAgent,
		CurrentTask:  row.CurrentTask,
		Error:        row.Error,
		StartedAt:    row.StartedAt,
		UpdatedAt:    row.UpdatedAt,
		CompletedAt:  row.CompletedAt,
	}
	dec := func(s string, v any) error {
		if s == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(s), v); err != nil {
			return fmt.Errorf("decode execution %s: %w", row.ID, err)
		}
		return nil
	}
	if err := dec(row.CrewConfig, &rec.CrewConfig); err != nil {
		return rec, err
	}
	if err := dec(row.Inputs, &rec.Inputs); err != nil {
		return rec, err
	}
	if err := dec(row.Result, &rec.Result); err != nil {
		return rec, err
	}
	if err := dec(row.Logs, &rec.Logs); err != nil {
		return rec, err
	}
	return rec, nil
}
