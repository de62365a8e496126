//go:build !windows

package wmi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/lauralex/PerformanceMonitorWidget/internal/perfmon"
)

// hostBackend answers the fixed counter queries from native host sources so
// the overlay runs on non-Windows platforms. Session steps that exist only
// for the COM runtime are no-ops here.
type hostBackend struct {
	logger *zap.Logger

	// Disk activity is derived from io-time deltas between queries.
	lastIOSample time.Time
	lastIOTime   uint64
}

// Compile-time interface guards.
var (
	_ perfmon.Backend   = (*hostBackend)(nil)
	_ perfmon.Locator   = (*hostLocator)(nil)
	_ perfmon.Session   = (*hostSession)(nil)
	_ perfmon.ResultSet = (*hostResultSet)(nil)
	_ perfmon.Row       = (*hostRow)(nil)
)

func newPlatformBackend(logger *zap.Logger) perfmon.Backend {
	logger.Info("WMI is only available on Windows; using native host metrics backend")
	return &hostBackend{logger: logger}
}

func (b *hostBackend) InitRuntime() error  { return nil }
func (b *hostBackend) InitSecurity() error { return nil }
func (b *hostBackend) TeardownRuntime()    {}

func (b *hostBackend) NewLocator() (perfmon.Locator, error) {
	return &hostLocator{backend: b}, nil
}

type hostLocator struct {
	backend *hostBackend
}

func (l *hostLocator) ConnectServer(namespace string) (perfmon.Session, error) {
	l.backend.logger.Debug("host backend ignoring namespace", zap.String("namespace", namespace))
	return &hostSession{backend: l.backend}, nil
}

func (l *hostLocator) Release() {}

type hostSession struct {
	backend *hostBackend
}

func (s *hostSession) SetProxySecurity() error { return nil }

// ExecQuery recognizes the three fixed counter queries and synthesizes rows
// matching WMI's property names and encodings. Memory counters are reported
// in KiB as decimal strings, the way Win32_OperatingSystem encodes its
// uint64 values. Unknown queries return an empty result set.
func (s *hostSession) ExecQuery(ctx context.Context, wql string) (perfmon.ResultSet, error) {
	switch wql {
	case perfmon.QueryCPU:
		percents, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return nil, fmt.Errorf("read cpu utilization: %w", err)
		}
		var pct float64
		if len(percents) > 0 {
			pct = percents[0]
		}
		return singleRow(map[string]perfmon.Value{
			"PercentProcessorTime": perfmon.Int32Value(int32(math.Round(pct))),
		}), nil

	case perfmon.QueryMemory:
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("read virtual memory: %w", err)
		}
		return singleRow(map[string]perfmon.Value{
			"TotalVisibleMemorySize": perfmon.StringValue(strconv.FormatUint(vm.Total/1024, 10)),
			"FreePhysicalMemory":     perfmon.StringValue(strconv.FormatUint(vm.Available/1024, 10)),
		}), nil

	case perfmon.QueryDisk:
		busy, err := s.backend.diskBusyPercent(ctx)
		if err != nil {
			return nil, fmt.Errorf("read disk io counters: %w", err)
		}
		return singleRow(map[string]perfmon.Value{
			"PercentDiskTime": perfmon.Int32Value(busy),
		}), nil

	default:
		return &hostResultSet{}, nil
	}
}

func (s *hostSession) Release() {}

// diskBusyPercent approximates the aggregate disk-time counter from the
// change in io-time (milliseconds spent doing I/O) since the previous
// query. The first sample has no baseline and reads as idle.
func (b *hostBackend) diskBusyPercent(ctx context.Context) (int32, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return 0, err
	}
	var ioTime uint64
	for _, c := range counters {
		ioTime += c.IoTime
	}

	now := time.Now()
	last, lastIO := b.lastIOSample, b.lastIOTime
	b.lastIOSample, b.lastIOTime = now, ioTime

	if last.IsZero() || ioTime < lastIO {
		return 0, nil
	}
	elapsedMs := float64(now.Sub(last)) / float64(time.Millisecond)
	if elapsedMs <= 0 {
		return 0, nil
	}
	busy := float64(ioTime-lastIO) / elapsedMs * 100.0
	return int32(math.Min(busy, 100.0)), nil
}

func singleRow(props map[string]perfmon.Value) *hostResultSet {
	return &hostResultSet{rows: []map[string]perfmon.Value{props}}
}

type hostResultSet struct {
	rows []map[string]perfmon.Value
	next int
}

func (r *hostResultSet) Next(_ context.Context) (perfmon.Row, error) {
	if r.next >= len(r.rows) {
		return nil, perfmon.ErrNoRows
	}
	row := &hostRow{props: r.rows[r.next]}
	r.next++
	return row, nil
}

func (r *hostResultSet) Release() {}

type hostRow struct {
	props map[string]perfmon.Value
}

func (r *hostRow) Property(name string) (perfmon.Value, error) {
	v, ok := r.props[name]
	if !ok {
		return perfmon.Value{}, errors.New("no such property: " + name)
	}
	return v, nil
}

func (r *hostRow) Release() {}
