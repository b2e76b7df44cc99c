package quota

import (
	"time"

	"sceneforge/internal/infra"
)

// Janitor clears the whole quota map on a fixed interval. This is a safety
// net against leaked counters (a crashed polling loop never observes its
// terminal state) at the cost of under-counting jobs that straddle a clear.
// Per-entry TTLs are deliberately not used.
type Janitor struct {
	store    Store
	interval time.Duration
	logger   infra.Logger
	stop     chan struct{}
	done     chan struct{}
}

func NewJanitor(store Store, interval time.Duration, logger infra.Logger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reset loop. Call once on process init.
func (j *Janitor) Start() {
	go j.run()
}

func (j *Janitor) run() {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.store.Clear()
			j.logger.Debug().Msg("quota: cleared client counters")
		case <-j.stop:
			return
		}
	}
}

// Stop halts the reset loop and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}
