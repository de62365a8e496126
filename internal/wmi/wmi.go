// Package wmi provides platform instrumentation backends for the metrics
// collector: the real WMI/COM stack on Windows, and a native host-metrics
// shim answering the same counter queries elsewhere.
package wmi

import (
	"github.com/lauralex/PerformanceMonitorWidget/internal/perfmon"
	"go.uber.org/zap"
)

// New returns a platform-appropriate instrumentation backend.
func New(logger *zap.Logger) perfmon.Backend {
	return newPlatformBackend(logger)
}
