package jobs

import (
	"context"
	"fmt"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/tools"
	"github.com/robfig/cron/v3"
)

// Schedules holds the cron specs of the maintenance tasks. An empty spec
// disables the task.
type Schedules struct {
	Retention string
	TempFiles string
	Timeouts  string
}

// Sweeper runs one pass of a maintenance task and reports how many items it
// handled.
type Sweeper func(ctx context.Context) (int, error)

// Tasks are the maintenance passes scheduled by ScheduleMaintenance.
type Tasks struct {
	Retention Sweeper
	TempFiles Sweeper
	Timeouts  Sweeper
}

// ScheduleMaintenance registers the retention sweep, the temp-file janitor and
// the timeout watchdog on a cron scheduler that stops with ctx.
func ScheduleMaintenance(ctx context.Context, s Schedules, t Tasks) (*cron.Cron, error) {
	c := cron.New()
	entries := []struct {
		name string
		spec string
		run  Sweeper
	}{
		{"retention", s.Retention, t.Retention},
		{"tempfiles", s.TempFiles, t.TempFiles},
		{"timeouts", s.Timeouts, t.Timeouts},
	}
	for _, e := range entries {
		if e.spec == "" || e.run == nil {
			continue
		}
		run := e.run
		if _, err := c.AddFunc(e.spec, func() {
			tools.Dispatch(ctx, e.name, func(ctx context.Context) error {
				_, err := run(ctx)
				return err
			})
		}); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", e.name, err)
		}
	}
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}
