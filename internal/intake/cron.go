// Copyright 2025 James Ross
package intake

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flyingrobots/reportgen/internal/reporterr"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// computeNextRun parses cronExpr in the given IANA timezone and returns its
// next fire time after now, or a KindInvalidCron error. Schedules created or
// re-enabled through the intake must have a valid nextRunAt per the
// "enabled=true ⇒ nextRunAt is set" invariant.
func computeNextRun(cronExpr, timezone string, now time.Time) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, reporterr.Wrap(reporterr.KindInvalidCron, err, "unknown timezone %q", timezone)
		}
		loc = l
	}

	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, reporterr.Wrap(reporterr.KindInvalidCron, err, "invalid cron expression %q", cronExpr)
	}
	return sched.Next(now.In(loc)).UTC(), nil
}
