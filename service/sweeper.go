package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// DefaultSweepSchedule runs the integrity repair every ten minutes.
const DefaultSweepSchedule = "@every 10m"

const sweepTimeout = 2 * time.Minute

// Sweeper periodically repairs board inconsistencies left behind by failed
// or interleaved multi-step writes.
type Sweeper struct {
	cron *cron.Cron
	svc  *BoardService
	log  *log.Logger
}

// NewSweeper schedules Repair on svc. schedule uses cron syntax, including
// descriptors such as "@every 5m".
func NewSweeper(svc *BoardService, schedule string, logger *log.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Sweeper{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		svc:  svc,
		log:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// RunOnce performs a single repair pass.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	n, err := s.svc.Repair(ctx)
	if err != nil {
		s.log.WithError(err).Error("integrity sweep failed")
		return
	}
	if n > 0 {
		s.log.WithField("repaired", n).Info("integrity sweep repaired board")
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
