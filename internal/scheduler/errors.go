package scheduler

import "errors"

var (
	ErrInvalidParams = errors.New("missing or incorrect required parameter")
	ErrInvalidCron   = errors.New("invalid cron expression")
	ErrNotInterval   = errors.New("task is not an interval")
	ErrTaskBusy      = errors.New("task is already executing")
	ErrTaskDone      = errors.New("task is done")
	ErrNotFound      = errors.New("task not found")
	ErrClosed        = errors.New("scheduler is closed")
)
