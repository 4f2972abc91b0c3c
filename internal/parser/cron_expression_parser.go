package parser

import (
	"strings"
	"time"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// standard five fields, an optional leading seconds field, and descriptors such as @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse validates expr and returns its schedule. Failures are marked with
// custom_errors.ErrInvalidCron.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.Mark(errors.New("cron expression is empty"), custom_errors.ErrInvalidCron)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid cron expression %q", expr), custom_errors.ErrInvalidCron)
	}
	return schedule, nil
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// CalculateNextRun returns the first occurrence of expr strictly after from.
func CalculateNextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := schedule.Next(from)
	if next.IsZero() {
		return time.Time{}, errors.Mark(errors.Newf("cron expression %q has no future occurrence", expr), custom_errors.ErrInvalidCron)
	}
	return next, nil
}
