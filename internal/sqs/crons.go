package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/state"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RegisterCron registers a recurring job under a fixed name. Registration
// is idempotent: re-registering the same name on process restart is a
// no-op, so duplicate recurring schedules cannot accumulate.
func (b *Backend) RegisterCron(ctx context.Context, name, schedule string, spec *core.JobSpec) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return core.NewConfigurationError(fmt.Sprintf("invalid cron expression %q for %s: %v", schedule, name, err))
	}

	if existing, err := b.store.GetCron(ctx, name); err == nil {
		// The stored schedule wins until the record is deleted; a config
		// change alone must not reset the firing history.
		if existing.Expression != schedule {
			b.logger.Warn("cron already registered with a different schedule",
				"cron", name, "stored", existing.Expression, "requested", schedule)
		}
		return nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return core.NewInfrastructureError("register_cron", "load cron "+name, err)
	}

	template, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal cron job template: %w", err)
	}

	record := &state.CronRecord{
		Name:        name,
		Expression:  schedule,
		JobTemplate: string(template),
		CreatedAt:   core.NowFormatted(),
	}
	if err := b.store.PutCron(ctx, record); err != nil {
		return core.NewInfrastructureError("register_cron", "store cron "+name, err)
	}
	return nil
}

// FireCronJobs enqueues one job for every cron whose schedule is due. A
// conditional lock keyed by cron name and scheduled tick guarantees that
// concurrent scheduler instances fire each tick at most once.
func (b *Backend) FireCronJobs(ctx context.Context) error {
	crons, err := b.store.ListCrons(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var firstErr error

	for _, record := range crons {
		schedule, err := cronParser.Parse(record.Expression)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("parse cron expression for %s: %w", record.Name, err)
			}
			b.logger.Error("invalid cron expression", "cron", record.Name, "expression", record.Expression)
			continue
		}

		// Compute the tick after the last firing (or registration).
		since := now.Add(-time.Minute)
		if record.LastRunAt != "" {
			if t, err := time.Parse(core.TimeFormat, record.LastRunAt); err == nil {
				since = t
			}
		}
		tick := schedule.Next(since)
		if tick.After(now) {
			continue
		}

		acquired, err := b.store.AcquireCronLock(ctx, record.Name, tick.Unix())
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("acquire cron lock %s: %w", record.Name, err)
			}
			b.logger.Error("failed to acquire cron lock", "cron", record.Name, "error", err)
			continue
		}
		if !acquired {
			continue
		}

		var spec core.JobSpec
		if err := json.Unmarshal([]byte(record.JobTemplate), &spec); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("decode cron job template %s: %w", record.Name, err)
			}
			b.logger.Error("failed to decode cron job template", "cron", record.Name, "error", err)
			continue
		}

		// Each firing gets a tick-scoped ID so firings are distinct but
		// deduplicated across instances.
		firing := spec
		firing.Options.JobID = fmt.Sprintf("%s-%d", spec.Options.JobID, tick.Unix())

		if _, err := b.Enqueue(ctx, &firing); err != nil {
			if _, ok := core.IsDuplicateJob(err); ok {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("enqueue cron job for %s: %w", record.Name, err)
			}
			b.logger.Error("failed to enqueue cron job", "cron", record.Name, "error", err)
			continue
		}

		if err := b.store.SetCronLastRun(ctx, record.Name, core.FormatTime(tick)); err != nil {
			b.logger.Error("failed to persist cron last run", "cron", record.Name, "error", err)
		}
	}

	return firstErr
}
