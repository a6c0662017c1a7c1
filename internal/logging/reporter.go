package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reporter hands out activities for progress reporting
type Reporter interface {
	Activity(name string) Activity
}

// Activity is one reported unit of work
type Activity interface {
	Start()
	SetStatus(status string)
	End()
}

// ZapReporter reports activities as structured log lines
type ZapReporter struct {
	logger *zap.Logger
}

// NewReporter creates a reporter writing to logger
func NewReporter(logger *zap.Logger) *ZapReporter {
	return &ZapReporter{logger: logger.Named("activity")}
}

// Activity creates a new activity with the given name
func (r *ZapReporter) Activity(name string) Activity {
	return &zapActivity{logger: r.logger.With(zap.String("activity", name))}
}

type zapActivity struct {
	logger *zap.Logger

	mu      sync.Mutex
	started time.Time
	status  string
	ended   bool
}

func (a *zapActivity) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = time.Now()
	a.logger.Info("activity started")
}

func (a *zapActivity) SetStatus(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	a.logger.Debug("activity status", zap.String("status", status))
}

// End logs the duration; calling it more than once is a no-op
func (a *zapActivity) End() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.ended = true
	fields := []zap.Field{zap.Duration("duration", time.Since(a.started))}
	if a.status != "" {
		fields = append(fields, zap.String("status", a.status))
	}
	a.logger.Info("activity finished", fields...)
}
