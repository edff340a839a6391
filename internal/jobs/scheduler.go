package jobs

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer is the part of asynq.Client the scheduler uses
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues signing tasks. It serves as the completion notifier of
// the BankID poller and as the expiry scheduler of the workflows.
type Scheduler struct {
	client Enqueuer
	log    *zap.Logger
}

func NewScheduler(client Enqueuer, log *zap.Logger) *Scheduler {
	return &Scheduler{client: client, log: log}
}

// NotifyCompleted enqueues the completion trigger; asynq retries it on failure
func (s *Scheduler) NotifyCompleted(requestID string) {
	task := asynq.NewTask(TypeSigningComplete, []byte(requestID))
	_, err := s.client.Enqueue(task,
		asynq.Queue("critical"),
		asynq.MaxRetry(5),
		asynq.TaskID("complete:"+requestID),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		s.log.Warn("Failed to enqueue signing completion", zap.String("request_id", requestID), zap.Error(err))
	}
}

// ScheduleExpiry enqueues the expiry check of a request at its expiry time
func (s *Scheduler) ScheduleExpiry(requestID string, at time.Time) error {
	task := asynq.NewTask(TypeSigningExpire, []byte(requestID))
	_, err := s.client.Enqueue(task,
		asynq.ProcessAt(at),
		asynq.TaskID("expire:"+requestID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}
