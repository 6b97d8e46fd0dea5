package monitor

import (
	"context"
	"errors"

	"github.com/FireKid846/whatsapp-web/internal/log"
	"github.com/FireKid846/whatsapp-web/internal/schedule"
	"golang.org/x/sync/errgroup"
)

// closeParallelism bounds concurrent handle teardown during shutdown.
const closeParallelism = 16

// Shutdown stops ticks, force-terminates every entry while keeping its
// credential storage, and waits for controller goroutines until ctx expires.
// sched may be nil when no ticks were scheduled.
func (m *Monitor) Shutdown(ctx context.Context, sched *schedule.Scheduler) error {
	l := log.WithComponent("shutdown")
	l.Info().Msg("shutting down session monitor")

	var errs []error
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	m.registry.Close()

	var g errgroup.Group
	g.SetLimit(closeParallelism)
	closed := 0
	for _, e := range m.registry.Entries() {
		if !m.registry.Claim(e) {
			continue
		}
		closed++
		g.Go(func() error {
			m.forceTerminate(e, false)
			return nil
		})
	}
	g.Wait()

	m.cancel()
	if err := m.workers.CloseAndWait(ctx); err != nil {
		errs = append(errs, err)
	}

	l.Info().Int("closed", closed).Msg("session monitor stopped")
	return errors.Join(errs...)
}
