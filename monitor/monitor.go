/******************************************************************************
 *
 *  Description :
 *    The host/runtime telemetry interface carried by manage.monitor
 *    replies. Actual telemetry collection is an external concern (see
 *    the out-of-scope note on OS/JVM telemetry); what belongs here is
 *    the contract a reply must satisfy and one concrete implementation
 *    backed by the Go runtime, standing in for the JVM-side figures
 *    (goroutines in place of threads).
 *
 *****************************************************************************/
package monitor

import (
	"context"
	"os"
	"runtime"
)

// OSStats mirrors the monitor.os.* reply schema.
type OSStats struct {
	Valid         bool    `json:"valid"`
	OS            string  `json:"os"`
	HostName      string  `json:"hostName"`
	KernelName    string  `json:"kernelName"`
	KernelVersion string  `json:"kernelVersion"`
	Architecture  string  `json:"architecture"`
	TotalMemory   int64   `json:"totalMemory"`
	UsedMemory    int64   `json:"usedMemory"`
	FreeMemory    int64   `json:"freeMemory"`
	CPUBusyPct    float64 `json:"cpuBusyPct"`
	CPUIdlePct    float64 `json:"cpuIdlePct"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
}

// RuntimeStats mirrors the monitor.jvm.* reply schema; goroutines stand
// in for JVM threads since MOP's Go runtime has no thread concept.
type RuntimeStats struct {
	UsedBytes       int64 `json:"usedBytes"`
	FreeBytes       int64 `json:"freeBytes"`
	AllocatedBytes  int64 `json:"allocatedBytes"`
	AvailableBytes  int64 `json:"availableBytes"`
	MaxBytes        int64 `json:"maxBytes"`
	CPUs            int   `json:"cpus"`
	TotalThreads    int   `json:"totalThreads"`
	NewThreads      int   `json:"newThreads"`
	RunningThreads  int   `json:"runningThreads"`
	BlockedThreads  int   `json:"blockedThreads"`
	WaitingThreads  int   `json:"waitingThreads"`
	TimedWaiting    int   `json:"timedWaitingThreads"`
	TerminatedCount int   `json:"terminatedThreads"`
}

// Sampler is satisfied by anything that can answer a manage.monitor
// request. The CPO and PO both hold one; the default implementation
// below is Go-runtime-only and costs nothing to sample.
type Sampler interface {
	Sample(ctx context.Context) (OSStats, RuntimeStats, error)
}

// Default is a Sampler backed entirely by the Go runtime and os
// package. Its only error is ctx.Err() when ctx is already done, in
// which case OSStats.Valid is false and ErrorMessage holds that error.
// Otherwise OSStats.Valid is true, but CPU busy/idle percentages are
// not computed (Go's
// runtime does not expose OS-wide CPU utilization without an extra
// dependency, which nothing in this codebase's stack supplies) and
// are left at zero.
type Default struct{}

func (Default) Sample(ctx context.Context) (OSStats, RuntimeStats, error) {
	host, _ := os.Hostname()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	os1 := OSStats{
		Valid:         true,
		OS:            runtime.GOOS,
		HostName:      host,
		KernelName:    runtime.GOOS,
		KernelVersion: runtime.Version(),
		Architecture:  runtime.GOARCH,
		TotalMemory:   int64(mem.Sys),
		UsedMemory:    int64(mem.Alloc),
		FreeMemory:    int64(mem.Sys - mem.Alloc),
	}

	goroutines := runtime.NumGoroutine()
	rt := RuntimeStats{
		UsedBytes:      int64(mem.Alloc),
		FreeBytes:      int64(mem.HeapIdle),
		AllocatedBytes: int64(mem.TotalAlloc),
		AvailableBytes: int64(mem.Sys),
		MaxBytes:       int64(mem.Sys),
		CPUs:           runtime.NumCPU(),
		TotalThreads:   goroutines,
		RunningThreads: goroutines,
	}

	select {
	case <-ctx.Done():
		return OSStats{Valid: false, ErrorMessage: ctx.Err().Error()}, RuntimeStats{}, ctx.Err()
	default:
	}
	return os1, rt, nil
}
