// Package perfmon implements the performance metrics collector: a session
// with the host instrumentation service plus a query engine that refreshes
// CPU, memory, and disk readings once per rendered frame.
package perfmon

import (
	"context"
	"errors"
)

// The three counter queries and the WMI namespace form a fixed external
// contract with the instrumentation service; they are not configurable.
const (
	DefaultNamespace = `ROOT\CIMV2`

	QueryCPU    = `SELECT PercentProcessorTime FROM Win32_PerfFormattedData_PerfOS_Processor WHERE Name='_Total'`
	QueryMemory = `SELECT TotalVisibleMemorySize, FreePhysicalMemory FROM Win32_OperatingSystem`
	QueryDisk   = `SELECT PercentDiskTime FROM Win32_PerfFormattedData_PerfDisk_PhysicalDisk WHERE Name='_Total'`
)

// ErrNoRows is returned by ResultSet.Next when the result set is exhausted.
var ErrNoRows = errors.New("perfmon: no rows in result set")

// Backend abstracts the host instrumentation runtime so tests can substitute
// a fake and so non-Windows builds can answer the same queries from native
// sources. InitRuntime and TeardownRuntime are paired; InitSecurity is only
// valid after InitRuntime succeeds.
type Backend interface {
	// InitRuntime initializes the instrumentation runtime for the calling
	// thread with a multi-threaded concurrency model.
	InitRuntime() error

	// InitSecurity establishes the security context for the runtime.
	InitSecurity() error

	// NewLocator obtains a locator for the instrumentation namespace.
	NewLocator() (Locator, error)

	// TeardownRuntime tears down the runtime initialized by InitRuntime.
	TeardownRuntime()
}

// Locator connects to a specific instrumentation namespace.
type Locator interface {
	ConnectServer(namespace string) (Session, error)
	Release()
}

// Session is a live connection to the instrumentation service. Queries are
// only valid between a successful SetProxySecurity and Release.
type Session interface {
	// SetProxySecurity authorizes the connection proxy with an
	// impersonation-capable authentication level.
	SetProxySecurity() error

	// ExecQuery executes a WQL query with forward-only, return-immediately
	// semantics.
	ExecQuery(ctx context.Context, wql string) (ResultSet, error)

	Release()
}

// ResultSet is a forward-only enumerator over query results.
type ResultSet interface {
	// Next returns the next row, or ErrNoRows when exhausted. The wait is
	// bounded by ctx.
	Next(ctx context.Context) (Row, error)
	Release()
}

// Row is a single query result. Callers must Release it when done.
type Row interface {
	Property(name string) (Value, error)
	Release()
}
