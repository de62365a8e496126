package perfmon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Property names fetched from the query rows.
const (
	propProcessorTime = "PercentProcessorTime"
	propTotalMemory   = "TotalVisibleMemorySize"
	propFreeMemory    = "FreePhysicalMemory"
	propDiskTime      = "PercentDiskTime"
)

// Config holds the collector settings.
type Config struct {
	// Namespace is the instrumentation namespace to connect to.
	Namespace string

	// QueryTimeout bounds the wait for the first row of each query so a
	// misbehaving backend degrades to a stale frame instead of stalling
	// the render loop indefinitely.
	QueryTimeout time.Duration
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:    DefaultNamespace,
		QueryTimeout: time.Second,
	}
}

// Monitor samples CPU load, memory usage, and disk activity from the host
// instrumentation service. It owns exactly one session at a time and is not
// safe for concurrent use: Update and the accessors are expected to run on
// the same frame tick, one writer and one reader in sequence.
type Monitor struct {
	backend Backend
	config  Config
	logger  *zap.Logger

	runtimeUp bool
	locator   Locator
	session   Session

	cpuLoad     float64
	memoryUsage float64
	diskUsage   float64
}

// New creates a Monitor over the given instrumentation backend. Zero config
// fields fall back to DefaultConfig values.
func New(backend Backend, config Config, logger *zap.Logger) *Monitor {
	def := DefaultConfig()
	if config.Namespace == "" {
		config.Namespace = def.Namespace
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = def.QueryTimeout
	}
	return &Monitor{
		backend: backend,
		config:  config,
		logger:  logger,
	}
}

// Initialize establishes the instrumentation session: runtime, security
// context, locator, namespace connection, proxy authorization — in that
// order. Any failure releases everything acquired so far in reverse order
// and returns false; no partial session state is retained. There is no
// built-in retry: callers treat false as a hard startup failure.
func (m *Monitor) Initialize() bool {
	if err := m.backend.InitRuntime(); err != nil {
		m.logger.Error("failed to initialize instrumentation runtime", zap.Error(err))
		return false
	}
	m.runtimeUp = true

	if err := m.backend.InitSecurity(); err != nil {
		m.logger.Error("failed to initialize instrumentation security", zap.Error(err))
		m.teardownRuntime()
		return false
	}

	locator, err := m.backend.NewLocator()
	if err != nil {
		m.logger.Error("failed to create instrumentation locator", zap.Error(err))
		m.teardownRuntime()
		return false
	}

	session, err := locator.ConnectServer(m.config.Namespace)
	if err != nil {
		m.logger.Error("failed to connect to instrumentation namespace",
			zap.String("namespace", m.config.Namespace),
			zap.Error(err),
		)
		locator.Release()
		m.teardownRuntime()
		return false
	}

	if err := session.SetProxySecurity(); err != nil {
		m.logger.Error("failed to authorize instrumentation proxy", zap.Error(err))
		session.Release()
		locator.Release()
		m.teardownRuntime()
		return false
	}

	m.locator = locator
	m.session = session

	m.logger.Info("instrumentation session established",
		zap.String("session_id", uuid.NewString()),
		zap.String("namespace", m.config.Namespace),
	)
	return true
}

// Shutdown releases the session and locator if held, then tears down the
// instrumentation runtime. Idempotent: safe before a successful Initialize
// and safe to call more than once.
func (m *Monitor) Shutdown() {
	if m.session != nil {
		m.session.Release()
		m.session = nil
	}
	if m.locator != nil {
		m.locator.Release()
		m.locator = nil
	}
	m.teardownRuntime()
}

// Close implements io.Closer for defer-friendly cleanup.
func (m *Monitor) Close() error {
	m.Shutdown()
	return nil
}

func (m *Monitor) teardownRuntime() {
	if m.runtimeUp {
		m.backend.TeardownRuntime()
		m.runtimeUp = false
	}
}

// Update refreshes all three metrics. It is a silent no-op while the session
// is not ready, since the render loop calls it every frame regardless of
// session state. Each metric refreshes independently: a failed query or
// decode retains that metric's previous value and never affects the others.
func (m *Monitor) Update() {
	if m.session == nil {
		return
	}

	if v, ok := m.queryCounter(QueryCPU, propProcessorTime); ok {
		m.cpuLoad = float64(v)
	}

	m.refreshMemory()

	if v, ok := m.queryCounter(QueryDisk, propDiskTime); ok {
		m.diskUsage = float64(v)
	}
}

// GetCpuLoad returns the latest processor utilization percentage (0-100).
func (m *Monitor) GetCpuLoad() float64 { return m.cpuLoad }

// GetMemoryUsage returns the latest physical memory usage percentage (0-100).
func (m *Monitor) GetMemoryUsage() float64 { return m.memoryUsage }

// GetDiskUsage returns the latest disk activity percentage (0-100).
func (m *Monitor) GetDiskUsage() float64 { return m.diskUsage }

// queryCounter executes a single-property counter query and decodes the
// first row's value. It reports ok=false on any failure: missing row,
// missing property, or unsupported encoding. All per-query handles are
// released on every path.
func (m *Monitor) queryCounter(wql, property string) (uint64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.QueryTimeout)
	defer cancel()

	results, err := m.session.ExecQuery(ctx, wql)
	if err != nil {
		m.logger.Debug("counter query failed", zap.String("property", property), zap.Error(err))
		return 0, false
	}
	defer results.Release()

	row, err := results.Next(ctx)
	if err != nil {
		m.logger.Debug("counter query returned no row", zap.String("property", property), zap.Error(err))
		return 0, false
	}
	defer row.Release()

	value, err := row.Property(property)
	if err != nil {
		m.logger.Debug("counter property fetch failed", zap.String("property", property), zap.Error(err))
		return 0, false
	}

	n, err := value.Uint()
	if err != nil {
		m.logger.Debug("counter decode failed",
			zap.String("property", property),
			zap.String("kind", value.Kind.String()),
			zap.Error(err),
		)
		return 0, false
	}
	return n, true
}

// refreshMemory fetches the total and free physical memory counters from a
// single row and recomputes the usage percentage. A zero total is treated
// like any other failure: the previous value stands.
func (m *Monitor) refreshMemory() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.QueryTimeout)
	defer cancel()

	results, err := m.session.ExecQuery(ctx, QueryMemory)
	if err != nil {
		m.logger.Debug("memory query failed", zap.Error(err))
		return
	}
	defer results.Release()

	row, err := results.Next(ctx)
	if err != nil {
		m.logger.Debug("memory query returned no row", zap.Error(err))
		return
	}
	defer row.Release()

	total, ok := rowUint(row, propTotalMemory, m.logger)
	if !ok {
		return
	}
	free, ok := rowUint(row, propFreeMemory, m.logger)
	if !ok {
		return
	}

	if total == 0 {
		m.logger.Debug("memory query reported zero total memory")
		return
	}
	m.memoryUsage = (float64(total) - float64(free)) / float64(total) * 100.0
}

func rowUint(row Row, property string, logger *zap.Logger) (uint64, bool) {
	value, err := row.Property(property)
	if err != nil {
		logger.Debug("memory property fetch failed", zap.String("property", property), zap.Error(err))
		return 0, false
	}
	n, err := value.Uint()
	if err != nil {
		logger.Debug("memory property decode failed", zap.String("property", property), zap.Error(err))
		return 0, false
	}
	return n, true
}
