package core

import (
	"context"
	"time"

	"github.com/freebox-portal/freebox-server/internal/store"
	"github.com/freebox-portal/freebox-server/internal/sysinfo"
)

// MetricsSampler reads live host metrics.
type MetricsSampler interface {
	Sample(ctx context.Context) (sysinfo.Snapshot, error)
}

// StatsSnapshot is a transient view of usage counters plus live host
// metrics. It has no identity: every computation produces a fresh value.
type StatsSnapshot struct {
	TotalVisits         int64 `json:"total_visits"`
	TotalUniqueVisitors int64 `json:"total_unique_visitors"`
	TotalMessages       int64 `json:"total_messages"`
	TotalFilesUploaded  int64 `json:"total_files_uploaded"`
	TotalDownloads      int64 `json:"total_downloads"`
	TotalBytesUploaded  int64 `json:"total_bytes_uploaded"`

	UptimeSeconds int64 `json:"uptime_seconds"`
	VisitorsCount int64 `json:"visitors_count"`
	FilesCount    int64 `json:"files_count"`
	MessagesCount int64 `json:"messages_count"`
	TotalStorage  int64 `json:"total_storage"`

	MostDownloaded *store.MostDownloaded `json:"most_downloaded"`
	System         *sysinfo.Snapshot     `json:"system,omitempty"`
	Timestamp      int64                 `json:"timestamp"`
}

// StatsAggregator computes snapshots on demand. There is no caching: a
// freshly connected or actively polling client always sees current values,
// and recomputation is negligible at tens of connections.
type StatsAggregator struct {
	store     store.StatsStore
	metrics   MetricsSampler
	startedAt time.Time
}

// NewStatsAggregator builds an aggregator. startedAt is the recorded process
// start time used for uptime.
func NewStatsAggregator(st store.StatsStore, metrics MetricsSampler, startedAt time.Time) *StatsAggregator {
	return &StatsAggregator{
		store:     st,
		metrics:   metrics,
		startedAt: startedAt,
	}
}

// Snapshot recomputes the current stats view. The returned snapshot is
// always usable: a storage failure yields zeroed counters alongside the
// error, and a metrics failure simply leaves the system block absent.
func (a *StatsAggregator) Snapshot(ctx context.Context) (*StatsSnapshot, error) {
	now := time.Now()
	snap := &StatsSnapshot{
		UptimeSeconds: int64(now.Sub(a.startedAt).Seconds()),
		Timestamp:     now.Unix(),
	}

	var retErr error
	if totals, err := a.store.Totals(ctx); err != nil {
		retErr = err
	} else {
		snap.TotalVisits = totals.Counters[store.CounterVisits]
		snap.TotalUniqueVisitors = totals.Counters[store.CounterUniqueVisitors]
		snap.TotalMessages = totals.Counters[store.CounterMessages]
		snap.TotalFilesUploaded = totals.Counters[store.CounterFilesUploaded]
		snap.TotalDownloads = totals.Counters[store.CounterDownloads]
		snap.TotalBytesUploaded = totals.Counters[store.CounterBytesUploaded]
		snap.VisitorsCount = totals.VisitorsCount
		snap.FilesCount = totals.FilesCount
		snap.MessagesCount = totals.MessagesCount
		snap.TotalStorage = totals.TotalStorage
		snap.MostDownloaded = totals.MostDownloaded
	}

	if a.metrics != nil {
		if sys, err := a.metrics.Sample(ctx); err == nil {
			snap.System = &sys
		}
	}

	return snap, retErr
}
