package model

import "time"

type UpdateTask struct {
	ID         uint       `gorm:"primary_key" json:"-"`
	TaskID     string     `gorm:"unique_index;not null" json:"task_id"`
	Symbol     string     `gorm:"type:text" json:"symbol"`
	DataSource string     `json:"data_source"`
	Status     string     `gorm:"index" json:"status"`
	Message    string     `gorm:"type:text" json:"message"`
	DataCount  int64      `json:"data_count"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
	CreatedAt  time.Time  `json:"-"`
	UpdatedAt  time.Time  `gorm:"index" json:"updated_at"`
}

func (UpdateTask) TableName() string {
	return `update_tasks`
}

func (task *UpdateTask) Terminal() bool {
	return task.Status == TaskStatusSuccess || task.Status == TaskStatusFailed
}
