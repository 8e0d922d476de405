package confclient

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is a background loop that runs fn every time it is poked via Run.
// Consecutive runs are separated by at least sleepDuration.
type Task struct {
	name   string
	log    *logrus.Entry
	done   chan Signal
	tasks  chan Signal
	cancel context.CancelFunc
}

func CreateTask(name string, log *logrus.Entry, fn func(ctx context.Context), sleepDuration time.Duration, allowSchedule bool) *Task {
	ctx, cancel := context.WithCancel(context.Background())

	signalChanSize := 0
	if allowSchedule {
		signalChanSize = 1
	}

	task := &Task{
		name:   name,
		log:    log.WithField("task", name),
		done:   make(chan Signal),
		tasks:  make(chan Signal, signalChanSize),
		cancel: cancel,
	}
	go func() {
		defer close(task.done)
	cycle:
		for {
			select {
			case <-ctx.Done():
				break cycle
			case <-task.tasks:
				fn(ctx)
			}

			select {
			case <-ctx.Done():
				break cycle
			case <-time.After(sleepDuration):
			}
		}
		task.log.Debug("task loop finished")
	}()
	return task
}

func (task *Task) Run() {
	select {
	case task.tasks <- SignalInstance:
	default:
	}
}

func (task *Task) SyncRun(timeout time.Duration) error {
	select {
	case task.tasks <- SignalInstance:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout")
	}
}

func (task *Task) Stop(timeout time.Duration) error {
	task.cancel()
	clearSignalChan(task.tasks)

	select {
	case <-task.done:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout")
	}
}
