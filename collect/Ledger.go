package collect

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
)

const publishTimeout = 2 * time.Second

// Ledger persists the lifecycle of ingestion tasks; rows are only inserted and updated.
type Ledger struct {
	db        *gorm.DB
	publisher Publisher
	logger    *zap.Logger
}

func NewLedger(db *gorm.DB, publisher Publisher, logger *zap.Logger) *Ledger {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Ledger{db: db, publisher: publisher, logger: logger.With(zap.String(`component`, `ledger`))}
}

func (ledger *Ledger) RecordStart(ctx context.Context, symbol, source string) (string, error) {
	task := &model.UpdateTask{TaskID: uuid.NewString(), Symbol: symbol, DataSource: source,
		Status: model.TaskStatusRunning, StartTime: time.Now().UTC()}
	if err := ledger.db.Create(task).Error; err != nil {
		return ``, errors.Wrapf(model.ErrPersistence, `record task start: %v`, err)
	}
	ledger.publish(ctx, *task)
	return task.TaskID, nil
}

func (ledger *Ledger) RecordEnd(ctx context.Context, taskID, status, message string, count int64) error {
	end := time.Now().UTC()
	result := ledger.db.Model(&model.UpdateTask{}).Where(`task_id = ?`, taskID).
		Updates(map[string]interface{}{`status`: status, `message`: message, `data_count`: count, `end_time`: end})
	if result.Error != nil {
		return errors.Wrapf(model.ErrPersistence, `record task end: %v`, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(model.ErrNotFound, `task %s`, taskID)
	}
	if task, err := ledger.find(taskID); err == nil {
		ledger.publish(ctx, *task)
	}
	return nil
}

func (ledger *Ledger) find(taskID string) (*model.UpdateTask, error) {
	task := &model.UpdateTask{}
	err := ledger.db.Where(`task_id = ?`, taskID).First(task).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, errors.Wrapf(model.ErrNotFound, `task %s`, taskID)
	}
	if err != nil {
		return nil, errors.Wrap(err, `query task`)
	}
	return task, nil
}

// Query returns the task by id or, without one, the most recently updated task or an idle placeholder.
func (ledger *Ledger) Query(taskID string) (*model.UpdateTask, error) {
	if taskID != `` {
		return ledger.find(taskID)
	}
	tasks, err := ledger.Recent(1)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return &model.UpdateTask{Status: model.TaskStatusIdle, Message: `no update task recorded`}, nil
	}
	return &tasks[0], nil
}

func (ledger *Ledger) Recent(limit int) ([]model.UpdateTask, error) {
	if limit <= 0 {
		limit = 20
	}
	tasks := make([]model.UpdateTask, 0, limit)
	err := ledger.db.Order(`updated_at desc`).Order(`id desc`).Limit(limit).Find(&tasks).Error
	if err != nil {
		return nil, errors.Wrap(err, `query recent tasks`)
	}
	return tasks, nil
}

// publish is best effort; a broker outage must not fail ingestion.
func (ledger *Ledger) publish(ctx context.Context, task model.UpdateTask) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := ledger.publisher.Publish(ctx, task); err != nil {
		ledger.logger.Warn(`publish task event`, zap.String(`task_id`, task.TaskID), zap.Error(err))
	}
}
