package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/config"
)

// Dial connects to the Temporal frontend configured in cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker registers the discovery workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(DiscoveryWorkflow)
	w.RegisterActivity(acts)
	return w
}

// Start submits a discovery workflow and returns its handle.
func Start(ctx context.Context, c client.Client, taskQueue string, in DiscoveryInput) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "discovery-" + in.Options.ProfileID + "-" + uuid.NewString(),
		TaskQueue: taskQueue,
	}, DiscoveryWorkflow, in)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: start discovery for %s", in.Options.ProfileID)
	}
	return run, nil
}

// Logger adapts zap to the Temporal SDK logger.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger wraps l for use by the Temporal client and worker.
func NewLogger(l *zap.Logger) *Logger {
	return &Logger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar().With("component", "temporal")}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.s.Errorw(msg, keyvals...) }
