package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleMaintenance_RunsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan string, 8)
	task := func(name string) Sweeper {
		return func(context.Context) (int, error) {
			ran <- name
			return 0, nil
		}
	}

	c, err := ScheduleMaintenance(ctx, Schedules{Retention: "@every 1s", Timeouts: "@every 1s"}, Tasks{
		Retention: task("retention"),
		TempFiles: task("tempfiles"),
		Timeouts:  task("timeouts"),
	})
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case name := <-ran:
			seen[name] = true
		case <-deadline:
			t.Fatalf("tasks did not run, saw %v", seen)
		}
	}
	assert.False(t, seen["tempfiles"])
}

func TestScheduleMaintenance_InvalidSpec(t *testing.T) {
	_, err := ScheduleMaintenance(context.Background(), Schedules{TempFiles: "sometimes"}, Tasks{
		TempFiles: func(context.Context) (int, error) { return 0, nil },
	})
	assert.ErrorContains(t, err, "tempfiles")
}
