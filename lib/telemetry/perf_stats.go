package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

// InstrumentPerfStats records process gauges every 30 seconds until ctx is
// done. Child processes (the headless browser) are included in the rss gauge.
func InstrumentPerfStats(ctx context.Context) {
	meter := otel.Meter("platescraper.perf_stats")
	cpuGauge, _ := meter.Float64Gauge("cpu_usage")
	memoryGauge, _ := meter.Int64Gauge("allocated_mb")
	rssGauge, _ := meter.Int64Gauge("process_tree_rss_mb")
	goroutineGauge, _ := meter.Int64Gauge("goroutine_count")

	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Warn("perf stats: failed to inspect own process", "err", err)
		self = nil
	}

	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)
				memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

				usage, err := cpu.PercentWithContext(ctx, time.Second, false)
				if err == nil && len(usage) > 0 {
					cpuGauge.Record(ctx, usage[0])
				} else if err != nil {
					slog.Debug("perf stats: failed to read cpu usage", "err", err)
				}

				if self != nil {
					rssGauge.Record(ctx, treeRss(ctx, self)/1_000_000)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func treeRss(ctx context.Context, p *process.Process) int64 {
	var total int64
	mem, err := p.MemoryInfoWithContext(ctx)
	if err == nil {
		total += int64(mem.RSS)
	}
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return total
	}
	for _, child := range children {
		total += treeRss(ctx, child)
	}
	return total
}
