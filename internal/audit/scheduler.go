package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler regenerates the audit report in the background and publishes it
// to a file whenever the findings change.
type Scheduler struct {
	auditor *Auditor
	path    string
	logger  *zap.Logger

	mu     sync.Mutex
	last   [32]byte
	wrote  bool
	latest *Report
}

func NewScheduler(auditor *Auditor, path string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{auditor: auditor, path: path, logger: logger}
}

// RunOnce generates one report and writes it if its findings differ from the
// last report written. It reports whether the file was written.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	r, err := s.auditor.GenerateReport(ctx)
	if err != nil {
		return false, err
	}
	sum, err := Fingerprint(r)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
	if s.wrote && sum == s.last {
		return false, nil
	}
	if err := WriteReport(s.path, r); err != nil {
		return false, err
	}
	s.last, s.wrote = sum, true

	s.logger.Info("audit report published",
		zap.String("path", s.path),
		zap.Int("anomalies", r.Anomalies()),
	)
	return true, nil
}

// Latest returns the most recent report generated by the scheduler, or nil.
func (s *Scheduler) Latest() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Run audits immediately and then every interval until ctx is done. Failed
// runs are logged and retried at the next tick.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("audit run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
