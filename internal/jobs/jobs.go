package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"utilitysign/internal/db"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeSigningComplete = "signing:complete"
	TypeSigningExpire   = "signing:expire"
)

// CompletionTrigger runs the backend completion side effect of a request
type CompletionTrigger interface {
	TriggerSigningCompletion(ctx context.Context, requestID string) error
}

// SigningRecords reads and expires persisted signing requests
type SigningRecords interface {
	GetSigningRequest(ctx context.Context, id string) (db.SigningRecord, error)
	ExpireSigningRequest(ctx context.Context, id string, now time.Time) (bool, error)
}

// WorkflowPublisher publishes workflow events
type WorkflowPublisher interface {
	PublishWorkflow(workflowID string, event map[string]interface{}) error
}

// Handlers processes signing tasks
type Handlers struct {
	trigger CompletionTrigger
	records SigningRecords
	bus     WorkflowPublisher
	log     *zap.Logger
	now     func() time.Time
}

func NewHandlers(trigger CompletionTrigger, records SigningRecords, bus WorkflowPublisher, log *zap.Logger) *Handlers {
	return &Handlers{trigger: trigger, records: records, bus: bus, log: log, now: time.Now}
}

// Register adds the signing task handlers to mux
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSigningComplete, h.handleComplete)
	mux.HandleFunc(TypeSigningExpire, h.handleExpire)
}

func (h *Handlers) handleComplete(ctx context.Context, t *asynq.Task) error {
	requestID := string(t.Payload())
	if err := h.trigger.TriggerSigningCompletion(ctx, requestID); err != nil {
		h.log.Warn("Signing completion trigger failed", zap.String("request_id", requestID), zap.Error(err))
		return fmt.Errorf("failed to trigger completion: %w", err)
	}
	h.log.Info("Signing completion triggered", zap.String("request_id", requestID))
	return nil
}

func (h *Handlers) handleExpire(ctx context.Context, t *asynq.Task) error {
	requestID := string(t.Payload())
	if h.records == nil {
		return nil
	}

	expired, err := h.records.ExpireSigningRequest(ctx, requestID, h.now())
	if err != nil {
		return fmt.Errorf("failed to expire request: %w", err)
	}
	if !expired {
		return nil
	}

	rec, err := h.records.GetSigningRequest(ctx, requestID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get request: %w", err)
	}

	if h.bus != nil {
		_ = h.bus.PublishWorkflow(rec.WorkflowID, map[string]interface{}{
			"type":       "signing.expired",
			"workflowId": rec.WorkflowID,
			"requestId":  requestID,
		})
	}
	h.log.Info("Signing request expired", zap.String("request_id", requestID))
	return nil
}

type JobServer struct {
	server   *asynq.Server
	client   *asynq.Client
	handlers *Handlers
}

func NewJobServer(redisAddr string, handlers *Handlers) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server:   server,
		client:   client,
		handlers: handlers,
	}, client
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	js.handlers.Register(mux)
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}
