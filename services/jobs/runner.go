// Package jobs runs the periodic maintenance tasks of the app.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/robfig/cron"

	"github.com/trezcool/backoffice/core"
)

const jobTimeout = 5 * time.Minute

type CronJob interface {
	Name() string
	Schedule() string
	Run(ctx context.Context) error
}

// TaskExecutor runs cron jobs; a job is skipped while its previous run is not over.
type TaskExecutor struct {
	cron    *cron.Cron
	jobs    []CronJob
	running mapset.Set[string]
	mu      sync.Mutex
	logger  core.Logger
}

func NewTaskExecutor(logger core.Logger, jobs ...CronJob) *TaskExecutor {
	return &TaskExecutor{
		cron:    cron.New(),
		jobs:    jobs,
		running: mapset.NewThreadUnsafeSet[string](),
		logger:  logger,
	}
}

// Start schedules the jobs, each run in its own goroutine by the cron.
func (t *TaskExecutor) Start() error {
	for _, job := range t.jobs {
		job := job
		if err := t.cron.AddFunc(job.Schedule(), func() { t.RunOnce(context.Background(), job) }); err != nil {
			return errors.Wrapf(err, "scheduling %s", job.Name())
		}
	}
	t.cron.Start()
	return nil
}

func (t *TaskExecutor) Stop() {
	t.logger.Info("stopping all tasks")
	t.cron.Stop()
}

// RunOnce runs job unless it is already running; it reports whether the job ran.
func (t *TaskExecutor) RunOnce(ctx context.Context, job CronJob) bool {
	t.mu.Lock()
	if t.running.Contains(job.Name()) {
		t.mu.Unlock()
		t.logger.Warn(fmt.Sprintf("task %s is already running", job.Name()))
		return false
	}
	t.running.Add(job.Name())
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.running.Remove(job.Name())
	}()

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	if err := job.Run(ctx); err != nil {
		t.logger.Error(fmt.Sprintf("running task %s: %v", job.Name(), err), err)
	}
	return true
}
