package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind is the recurrence of a schedule trigger.
type ScheduleKind string

const (
	ScheduleOnce    ScheduleKind = "once"
	ScheduleDaily   ScheduleKind = "daily"
	ScheduleWeekly  ScheduleKind = "weekly"
	ScheduleMonthly ScheduleKind = "monthly"
	ScheduleCustom  ScheduleKind = "custom"
)

var (
	ErrInvalidScheduleTime = errors.New("schedule time must be HH:MM")
	ErrScheduleDays        = errors.New("weekly schedule requires at least one day")
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleConfig fires a workflow on a calendar recurrence evaluated in Timezone.
// Days use Monday=0 through Sunday=6.
type ScheduleConfig struct {
	Schedule       ScheduleKind `json:"schedule"                 validate:"required,oneof=once daily weekly monthly custom"`
	Time           string       `json:"time,omitempty"`
	Days           []int        `json:"days,omitempty"           validate:"omitempty,unique,dive,min=0,max=6"`
	DayOfMonth     int          `json:"dayOfMonth,omitempty"     validate:"min=0,max=31"`
	Date           string       `json:"date,omitempty"`
	CronExpression string       `json:"cronExpression,omitempty"`
	Timezone       string       `json:"timezone"                 validate:"required,timezone"`

	// CatchUp fires once on startup when a fire time was missed while the
	// engine was down. Missed fires are skipped otherwise.
	CatchUp bool `json:"catchUp,omitempty"`
}

func (*ScheduleConfig) TriggerKind() TriggerKind { return TriggerSchedule }

// Compile turns the configuration into a schedule bound to its timezone.
func (c *ScheduleConfig) Compile() (cron.Schedule, error) {
	location, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if c.Schedule == ScheduleOnce {
		at, err := c.onceAt(location)
		if err != nil {
			return nil, err
		}

		return onceSchedule{at: at}, nil
	}

	spec, err := c.cronSpec()
	if err != nil {
		return nil, err
	}

	schedule, err := cronParser.Parse("CRON_TZ=" + location.String() + " " + spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	return schedule, nil
}

func (c *ScheduleConfig) cronSpec() (string, error) {
	if c.Schedule == ScheduleCustom {
		if strings.TrimSpace(c.CronExpression) == "" {
			return "", errors.New("custom schedule requires cronExpression")
		}

		return c.CronExpression, nil
	}

	hour, minute, err := parseClock(c.Time)
	if err != nil {
		return "", err
	}

	switch c.Schedule {
	case ScheduleDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case ScheduleWeekly:
		if len(c.Days) == 0 {
			return "", ErrScheduleDays
		}

		days := make([]string, 0, len(c.Days))
		for _, day := range c.Days {
			// cron counts from Sunday=0.
			days = append(days, strconv.Itoa((day+1)%7))
		}

		return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(days, ",")), nil
	case ScheduleMonthly:
		if c.DayOfMonth < 1 {
			return "", errors.New("monthly schedule requires dayOfMonth between 1 and 31")
		}

		return fmt.Sprintf("%d %d %d * *", minute, hour, c.DayOfMonth), nil
	default:
		return "", fmt.Errorf("unsupported schedule %q", c.Schedule)
	}
}

func (c *ScheduleConfig) onceAt(location *time.Location) (time.Time, error) {
	hour, minute, err := parseClock(c.Time)
	if err != nil {
		return time.Time{}, err
	}

	day, err := time.ParseInLocation(time.DateOnly, c.Date, location)
	if err != nil {
		return time.Time{}, fmt.Errorf("once schedule requires date as YYYY-MM-DD: %w", err)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, location), nil
}

func parseClock(value string) (int, int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidScheduleTime, value)
	}

	return parsed.Hour(), parsed.Minute(), nil
}

type onceSchedule struct {
	at time.Time
}

// Next returns the zero time once the single fire time has passed.
func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}

	return time.Time{}
}

// ScheduleState is the persisted bookkeeping of a schedule trigger.
type ScheduleState struct {
	WorkflowID  string     `json:"workflowId"`
	LastFiredAt *time.Time `json:"lastFiredAt,omitempty"`
	NextFireAt  time.Time  `json:"nextFireAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
