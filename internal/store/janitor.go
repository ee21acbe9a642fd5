package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ibkrfeed/internal/util"
)

// Janitor periodically evicts old cache entries and stale contract rows.
type Janitor struct {
	cron      *cron.Cron
	cache     *DiskCache
	contracts *ContractStore
	maxAge    float64
	log       *slog.Logger
}

// NewJanitor schedules eviction of cache entries older than maxAgeHours on
// the given cron schedule ("@daily", "0 3 * * *", ...). contracts may be nil.
func NewJanitor(cache *DiskCache, contracts *ContractStore, schedule string, maxAgeHours int, log *slog.Logger) (*Janitor, error) {
	if maxAgeHours <= 0 {
		return nil, fmt.Errorf("janitor max age must be positive, got %d", maxAgeHours)
	}
	j := &Janitor{
		cron:      cron.New(),
		cache:     cache,
		contracts: contracts,
		maxAge:    float64(maxAgeHours),
		log:       util.OrDefault(log).With("component", "janitor"),
	}
	if _, err := j.cron.AddFunc(schedule, j.RunOnce); err != nil {
		return nil, fmt.Errorf("parsing janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce performs one eviction pass.
func (j *Janitor) RunOnce() {
	res, err := j.cache.Clear(j.maxAge)
	if err != nil {
		j.log.Error("cache eviction failed", "error", err)
	} else {
		j.log.Info("cache eviction done", "files", res.FilesRemoved, "mb", res.MBFreed)
	}

	if j.contracts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := j.contracts.PurgeContracts(ctx, time.Duration(j.maxAge)*time.Hour)
		if err != nil {
			j.log.Error("contract purge failed", "error", err)
			return
		}
		j.log.Info("contract purge done", "rows", n)
	}
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// any running pass to finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}
