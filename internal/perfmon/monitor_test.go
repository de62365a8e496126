package perfmon

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// Tests for the Monitor session lifecycle and query engine.
//
// Testing Strategy:
//  - fakeBackend: scripted instrumentation backend recording every acquire
//    and release so lifecycle order and resource discipline are observable
//  - Lifecycle tests: strict-order setup, reverse-order unwind per failing
//    step, Shutdown idempotence
//  - Query tests: the memory formula and its zero-total guard, tagged value
//    decoding, stale-on-failure independence between metrics

var errScripted = errors.New("scripted failure")

// fakeResult scripts the outcome of one query string.
type fakeResult struct {
	err  error
	rows []map[string]Value
}

// fakeBackend is a scripted implementation of the Backend interfaces.
type fakeBackend struct {
	errRuntime  error
	errSecurity error
	errLocator  error
	errConnect  error
	errProxy    error

	responses map[string]fakeResult

	// events records lifecycle calls in order.
	events []string

	// Open-handle counters for leak checks.
	setsOpen int
	rowsOpen int
}

func (b *fakeBackend) InitRuntime() error {
	if b.errRuntime != nil {
		return b.errRuntime
	}
	b.events = append(b.events, "runtime.init")
	return nil
}

func (b *fakeBackend) InitSecurity() error {
	if b.errSecurity != nil {
		return b.errSecurity
	}
	b.events = append(b.events, "security.init")
	return nil
}

func (b *fakeBackend) NewLocator() (Locator, error) {
	if b.errLocator != nil {
		return nil, b.errLocator
	}
	b.events = append(b.events, "locator.new")
	return &fakeLocator{backend: b}, nil
}

func (b *fakeBackend) TeardownRuntime() {
	b.events = append(b.events, "runtime.teardown")
}

type fakeLocator struct {
	backend *fakeBackend
}

func (l *fakeLocator) ConnectServer(namespace string) (Session, error) {
	if l.backend.errConnect != nil {
		return nil, l.backend.errConnect
	}
	l.backend.events = append(l.backend.events, "session.connect")
	return &fakeSession{backend: l.backend}, nil
}

func (l *fakeLocator) Release() {
	l.backend.events = append(l.backend.events, "locator.release")
}

type fakeSession struct {
	backend *fakeBackend
}

func (s *fakeSession) SetProxySecurity() error {
	if s.backend.errProxy != nil {
		return s.backend.errProxy
	}
	s.backend.events = append(s.backend.events, "proxy.set")
	return nil
}

func (s *fakeSession) ExecQuery(_ context.Context, wql string) (ResultSet, error) {
	result, ok := s.backend.responses[wql]
	if !ok {
		result = fakeResult{}
	}
	if result.err != nil {
		return nil, result.err
	}
	s.backend.setsOpen++
	return &fakeResultSet{backend: s.backend, rows: result.rows}, nil
}

func (s *fakeSession) Release() {
	s.backend.events = append(s.backend.events, "session.release")
}

type fakeResultSet struct {
	backend *fakeBackend
	rows    []map[string]Value
	next    int
}

func (r *fakeResultSet) Next(_ context.Context) (Row, error) {
	if r.next >= len(r.rows) {
		return nil, ErrNoRows
	}
	props := r.rows[r.next]
	r.next++
	r.backend.rowsOpen++
	return &fakeRow{backend: r.backend, props: props}, nil
}

func (r *fakeResultSet) Release() { r.backend.setsOpen-- }

type fakeRow struct {
	backend *fakeBackend
	props   map[string]Value
}

func (r *fakeRow) Property(name string) (Value, error) {
	v, ok := r.props[name]
	if !ok {
		return Value{}, errors.New("no such property: " + name)
	}
	return v, nil
}

func (r *fakeRow) Release() { r.backend.rowsOpen-- }

// Compile-time interface guards.
var (
	_ Backend   = (*fakeBackend)(nil)
	_ Locator   = (*fakeLocator)(nil)
	_ Session   = (*fakeSession)(nil)
	_ ResultSet = (*fakeResultSet)(nil)
	_ Row       = (*fakeRow)(nil)
)

// healthyResponses scripts well-formed answers for all three queries.
func healthyResponses() map[string]fakeResult {
	return map[string]fakeResult{
		QueryCPU: {rows: []map[string]Value{
			{propProcessorTime: Int32Value(37)},
		}},
		QueryMemory: {rows: []map[string]Value{
			{propTotalMemory: StringValue("16000"), propFreeMemory: StringValue("4000")},
		}},
		QueryDisk: {rows: []map[string]Value{
			{propDiskTime: Int32Value(12)},
		}},
	}
}

func newTestMonitor(backend *fakeBackend) *Monitor {
	return New(backend, DefaultConfig(), zap.NewNop())
}

func TestInitializeAndUpdate(t *testing.T) {
	backend := &fakeBackend{responses: healthyResponses()}
	m := newTestMonitor(backend)

	if !m.Initialize() {
		t.Fatal("Initialize() = false, want true")
	}
	m.Update()

	if got := m.GetCpuLoad(); got != 37.0 {
		t.Errorf("GetCpuLoad() = %v, want 37.0", got)
	}
	if got := m.GetMemoryUsage(); got != 75.0 {
		t.Errorf("GetMemoryUsage() = %v, want 75.0", got)
	}
	if got := m.GetDiskUsage(); got != 12.0 {
		t.Errorf("GetDiskUsage() = %v, want 12.0", got)
	}
}

func TestInitializeStepFailureUnwindsInReverseOrder(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*fakeBackend)
		wantEvents []string
	}{
		{
			name:       "runtime init fails",
			setup:      func(b *fakeBackend) { b.errRuntime = errScripted },
			wantEvents: nil,
		},
		{
			name:       "security init fails",
			setup:      func(b *fakeBackend) { b.errSecurity = errScripted },
			wantEvents: []string{"runtime.init", "runtime.teardown"},
		},
		{
			name:       "locator creation fails",
			setup:      func(b *fakeBackend) { b.errLocator = errScripted },
			wantEvents: []string{"runtime.init", "security.init", "runtime.teardown"},
		},
		{
			name:  "namespace connect fails",
			setup: func(b *fakeBackend) { b.errConnect = errScripted },
			wantEvents: []string{
				"runtime.init", "security.init", "locator.new",
				"locator.release", "runtime.teardown",
			},
		},
		{
			name:  "proxy authorization fails",
			setup: func(b *fakeBackend) { b.errProxy = errScripted },
			wantEvents: []string{
				"runtime.init", "security.init", "locator.new", "session.connect",
				"session.release", "locator.release", "runtime.teardown",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{responses: healthyResponses()}
			tt.setup(backend)
			m := newTestMonitor(backend)

			if m.Initialize() {
				t.Fatal("Initialize() = true, want false")
			}
			if len(backend.events) != len(tt.wantEvents) {
				t.Fatalf("events = %v, want %v", backend.events, tt.wantEvents)
			}
			for i := range tt.wantEvents {
				if backend.events[i] != tt.wantEvents[i] {
					t.Fatalf("events = %v, want %v", backend.events, tt.wantEvents)
				}
			}

			// A failed Initialize leaves the collector unready.
			m.Update()
			if m.GetCpuLoad() != 0 || m.GetMemoryUsage() != 0 || m.GetDiskUsage() != 0 {
				t.Error("Update() after failed Initialize() altered values")
			}
		})
	}
}

func TestShutdownIdempotent(t *testing.T) {
	t.Run("before initialize", func(t *testing.T) {
		backend := &fakeBackend{}
		m := newTestMonitor(backend)

		m.Shutdown()
		m.Shutdown()

		if len(backend.events) != 0 {
			t.Errorf("Shutdown() before Initialize() touched the backend: %v", backend.events)
		}
	})

	t.Run("after initialize", func(t *testing.T) {
		backend := &fakeBackend{responses: healthyResponses()}
		m := newTestMonitor(backend)
		if !m.Initialize() {
			t.Fatal("Initialize() = false, want true")
		}

		m.Shutdown()
		m.Shutdown()

		want := []string{
			"runtime.init", "security.init", "locator.new", "session.connect", "proxy.set",
			"session.release", "locator.release", "runtime.teardown",
		}
		if len(backend.events) != len(want) {
			t.Fatalf("events = %v, want %v", backend.events, want)
		}
		for i := range want {
			if backend.events[i] != want[i] {
				t.Fatalf("events = %v, want %v", backend.events, want)
			}
		}

		// Updates after shutdown are silent no-ops.
		m.Update()
		if m.GetCpuLoad() != 0 {
			t.Error("Update() after Shutdown() altered values")
		}
	})
}

func TestUpdateBeforeInitializeIsNoOp(t *testing.T) {
	backend := &fakeBackend{responses: healthyResponses()}
	m := newTestMonitor(backend)

	m.Update()

	if m.GetCpuLoad() != 0 || m.GetMemoryUsage() != 0 || m.GetDiskUsage() != 0 {
		t.Error("Update() before Initialize() altered values")
	}
	if backend.setsOpen != 0 {
		t.Error("Update() before Initialize() issued queries")
	}
}

func TestMemoryUsageFormula(t *testing.T) {
	tests := []struct {
		name  string
		total string
		free  string
		prior float64
		want  float64
	}{
		{name: "three quarters used", total: "16000", free: "4000", want: 75.0},
		{name: "zero total retains previous value", total: "0", free: "0", prior: 33.0, want: 33.0},
		{name: "all memory free", total: "8192", free: "8192", want: 0.0},
		{name: "free exceeds total is not clamped", total: "8000", free: "10000", want: -25.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := healthyResponses()
			responses[QueryMemory] = fakeResult{rows: []map[string]Value{
				{propTotalMemory: StringValue(tt.total), propFreeMemory: StringValue(tt.free)},
			}}
			backend := &fakeBackend{responses: responses}
			m := newTestMonitor(backend)
			m.memoryUsage = tt.prior
			if !m.Initialize() {
				t.Fatal("Initialize() = false, want true")
			}

			m.Update()

			if got := m.GetMemoryUsage(); got != tt.want {
				t.Errorf("GetMemoryUsage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTextualCounterDecodes(t *testing.T) {
	responses := healthyResponses()
	responses[QueryCPU] = fakeResult{rows: []map[string]Value{
		{propProcessorTime: StringValue("42")},
	}}
	backend := &fakeBackend{responses: responses}
	m := newTestMonitor(backend)
	if !m.Initialize() {
		t.Fatal("Initialize() = false, want true")
	}

	m.Update()

	if got := m.GetCpuLoad(); got != 42.0 {
		t.Errorf("GetCpuLoad() = %v, want 42.0", got)
	}
}

func TestStaleOnFailureIsPerMetric(t *testing.T) {
	backend := &fakeBackend{responses: healthyResponses()}
	m := newTestMonitor(backend)
	if !m.Initialize() {
		t.Fatal("Initialize() = false, want true")
	}
	m.Update()

	// Second round: the disk query returns no row, the others move.
	backend.responses = map[string]fakeResult{
		QueryCPU: {rows: []map[string]Value{
			{propProcessorTime: Int32Value(80)},
		}},
		QueryMemory: {rows: []map[string]Value{
			{propTotalMemory: StringValue("16000"), propFreeMemory: StringValue("8000")},
		}},
		QueryDisk: {rows: nil},
	}
	m.Update()

	if got := m.GetCpuLoad(); got != 80.0 {
		t.Errorf("GetCpuLoad() = %v, want 80.0", got)
	}
	if got := m.GetMemoryUsage(); got != 50.0 {
		t.Errorf("GetMemoryUsage() = %v, want 50.0", got)
	}
	if got := m.GetDiskUsage(); got != 12.0 {
		t.Errorf("GetDiskUsage() = %v, want stale 12.0", got)
	}
}

func TestFailedQueryErrorRetainsValue(t *testing.T) {
	backend := &fakeBackend{responses: healthyResponses()}
	m := newTestMonitor(backend)
	if !m.Initialize() {
		t.Fatal("Initialize() = false, want true")
	}
	m.Update()

	responses := healthyResponses()
	responses[QueryCPU] = fakeResult{err: errScripted}
	backend.responses = responses
	m.Update()

	if got := m.GetCpuLoad(); got != 37.0 {
		t.Errorf("GetCpuLoad() = %v, want stale 37.0", got)
	}
}

func TestUnsupportedEncodingRetainsValue(t *testing.T) {
	backend := &fakeBackend{responses: healthyResponses()}
	m := newTestMonitor(backend)
	if !m.Initialize() {
		t.Fatal("Initialize() = false, want true")
	}
	m.Update()

	responses := healthyResponses()
	responses[QueryDisk] = fakeResult{rows: []map[string]Value{
		{propDiskTime: Value{Kind: KindUnknown}},
	}}
	backend.responses = responses
	m.Update()

	if got := m.GetDiskUsage(); got != 12.0 {
		t.Errorf("GetDiskUsage() = %v, want stale 12.0", got)
	}
}

func TestNoHandleLeaks(t *testing.T) {
	responses := healthyResponses()
	// Mix of success, missing-row, and missing-property outcomes.
	responses[QueryDisk] = fakeResult{rows: nil}
	responses[QueryMemory] = fakeResult{rows: []map[string]Value{
		{propTotalMemory: StringValue("16000")}, // FreePhysicalMemory missing
	}}
	backend := &fakeBackend{responses: responses}
	m := newTestMonitor(backend)
	if !m.Initialize() {
		t.Fatal("Initialize() = false, want true")
	}

	for i := 0; i < 10; i++ {
		m.Update()
	}

	if backend.setsOpen != 0 {
		t.Errorf("result set handles leaked: %d still open", backend.setsOpen)
	}
	if backend.rowsOpen != 0 {
		t.Errorf("row handles leaked: %d still open", backend.rowsOpen)
	}
}
