package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type flowStat struct {
	objects int64
	bytes   int64
}

var (
	errorsFetch   int64
	errorsStorage int64
	warnsTotal    int64
	pagesFetched  int64
	flows         sync.Map // map[string]*flowStat
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(component string) {
	switch {
	case strings.Contains(component, "reader"):
		atomic.AddInt64(&errorsFetch, 1)
	default:
		atomic.AddInt64(&errorsStorage, 1)
	}
}

// IncrementPageFetched counts one upstream page of size bytes.
func IncrementPageFetched(size int) {
	atomic.AddInt64(&pagesFetched, 1)
	recordFlow("feed_page", int64(size))
}

// IncrementObjectStaged counts one raw object written to the staging prefix.
func IncrementObjectStaged(size int64) {
	recordFlow("raw_stage_write", size)
}

// IncrementObjectLoaded counts one raw object read back by the loader.
func IncrementObjectLoaded(size int64) {
	recordFlow("raw_stage_read", size)
}

// IncrementObjectPublished counts one published table object.
func IncrementObjectPublished(size int64) {
	recordFlow("processed_write", size)
}

func recordFlow(name string, size int64) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.objects, 1)
	atomic.AddInt64(&fs.bytes, size)
}

// StartReport begins periodic logging of process and pipeline statistics
// until ctx is cancelled. A final report is logged on cancellation.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logReport(context.WithoutCancel(ctx), log)
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func snapshotFlows() map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		out[k.(string)] = map[string]int64{
			"objects": atomic.LoadInt64(&fs.objects),
			"bytes":   atomic.LoadInt64(&fs.bytes),
		}
		return true
	})
	return out
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	netStats, _ := gnet.IOCounters(false)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memoryMB := 0.0
	if memStats, err := mem.VirtualMemory(); err == nil {
		memoryMB = float64(memStats.Used) / 1024 / 1024
	}

	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesRecv = netStats[0].BytesRecv
	}

	flowData := snapshotFlows()

	fields := Fields{
		"errors_fetch":   atomic.LoadInt64(&errorsFetch),
		"errors_storage": atomic.LoadInt64(&errorsStorage),
		"warns":          atomic.LoadInt64(&warnsTotal),
		"pages_fetched":  atomic.LoadInt64(&pagesFetched),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memoryMB),
		"net_bytes_recv": int64(bytesRecv),
		"flows":          flowData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memoryMB)},
		{MetricName: aws.String("PagesFetched"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["pages_fetched"].(int64)))},
		{MetricName: aws.String("ErrorsFetch"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_fetch"].(int64)))},
		{MetricName: aws.String("ErrorsStorage"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_storage"].(int64)))},
	}

	for name, stats := range flowData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowObjects"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["objects"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
