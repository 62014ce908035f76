package session

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TTLSweep runs Manager.Sweep on a cron schedule, the session-table
// analog of internal/storage.RepairTask's scheduled index-repair scan.
type TTLSweep struct {
	manager *Manager
	log     *zap.Logger
	cron    *cron.Cron
}

// NewTTLSweep schedules periodic eviction of expired sessions. schedule
// is a standard five-field cron expression (e.g. "*/1 * * * *" for every
// minute). log may be nil.
func NewTTLSweep(manager *Manager, log *zap.Logger, schedule string) (*TTLSweep, error) {
	s := &TTLSweep{manager: manager, log: log, cron: cron.New()}
	if _, err := s.cron.AddFunc(schedule, func() {
		evicted := manager.Sweep()
		if evicted > 0 && s.log != nil {
			s.log.Info("evicted expired sessions", zap.Int("count", evicted))
		}
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the scheduled sweep.
func (s *TTLSweep) Start() { s.cron.Start() }

// Stop waits for any in-flight sweep to finish, then halts scheduling.
func (s *TTLSweep) Stop() { <-s.cron.Stop().Done() }
