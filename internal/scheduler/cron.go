package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// NextFireTime calculates the first activation of expr strictly after from.
// The expression is evaluated in from's location unless it carries CRON_TZ.
func NextFireTime(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrInvalidCron, expr)
	}
	return next, nil
}
