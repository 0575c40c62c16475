package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"taskclock/internal/domain"
	"taskclock/internal/scheduler"
)

const recordTimeout = 5 * time.Second

// Listener writes every broadcast execution to repo.
func Listener(repo Repository, log zerolog.Logger) scheduler.Listener {
	return func(e scheduler.Event) {
		run := FromEvent(e)
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if _, err := repo.Record(ctx, run); err != nil {
			log.Error().Err(err).Str("task_id", run.TaskID).Msg("journal record failed")
		}
	}
}

// FromEvent flattens a notification into a journal row. Responses that do
// not marshal to JSON are stored as their %v rendering.
func FromEvent(e scheduler.Event) domain.Run {
	run := domain.Run{Outcome: string(e.Kind), RecordedAt: time.Now()}
	if r := e.Result; r != nil {
		run.TaskID = r.ID
		run.TaskType = r.Type
		run.DelayMs = r.Delay.Milliseconds()
		run.ExecutionMs = r.ExecutionTime.Milliseconds()
		if !r.NextExecute.IsZero() {
			next := r.NextExecute
			run.NextExecute = &next
		}
	}
	if e.Err != nil {
		run.Error = e.Err.Error()
	}
	if e.Response != nil {
		b, err := json.Marshal(e.Response)
		if err != nil {
			b, _ = json.Marshal(fmt.Sprintf("%v", e.Response))
		}
		run.Response = b
	}
	return run
}
