/*
scheduler.go - Forecast run log retention

PURPOSE:
  Periodically deletes forecast runs older than the retention window so a
  file-backed run log does not grow without bound.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Prunes once immediately on start, then on every tick
  - Retention <= 0 disables the pruner

USAGE:
  pruner := NewRunPruner(runs, 24*time.Hour, log)
  pruner.Start()
  // ... later
  pruner.Stop()

SEE ALSO:
  - store/sqlite/sqlite.go: PruneRuns
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/retail-forecast/store/sqlite"
)

// RunPruner enforces the run log retention window.
type RunPruner struct {
	Store         *sqlite.Store
	Retention     time.Duration
	CheckInterval time.Duration

	now    func() time.Time
	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRunPruner creates a pruner that checks hourly.
func NewRunPruner(store *sqlite.Store, retention time.Duration, log zerolog.Logger) *RunPruner {
	return &RunPruner{
		Store:         store,
		Retention:     retention,
		CheckInterval: time.Hour,
		now:           time.Now,
		log:           log.With().Str("component", "pruner").Logger(),
	}
}

// Start begins the pruner.
func (p *RunPruner) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Retention <= 0 {
		p.log.Debug().Msg("run retention disabled, not starting")
		return
	}
	if p.ticker != nil {
		return
	}

	p.ticker = time.NewTicker(p.CheckInterval)
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.run(p.ticker, p.stop)

	p.log.Info().Dur("retention", p.Retention).Dur("interval", p.CheckInterval).Msg("run pruner started")
}

// Stop stops the pruner.
func (p *RunPruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		p.ticker.Stop()
		close(p.stop)
		p.wg.Wait()
		p.ticker = nil
		p.log.Info().Msg("run pruner stopped")
	}
}

func (p *RunPruner) run(ticker *time.Ticker, stop chan struct{}) {
	defer p.wg.Done()

	p.RunNow()
	for {
		select {
		case <-ticker.C:
			p.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow prunes immediately and returns the number of deleted runs.
func (p *RunPruner) RunNow() int64 {
	cutoff := p.now().Add(-p.Retention)
	n, err := p.Store.PruneRuns(context.Background(), cutoff)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to prune forecast runs")
		return 0
	}
	if n > 0 {
		p.log.Info().Int64("deleted", n).Time("before", cutoff).Msg("pruned forecast runs")
	}
	return n
}
