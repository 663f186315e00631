package scheduler

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/haramshield/haramshield-go/internal/logger"
)

// PowerMonitor reports whether the device is in a power-saving state.
type PowerMonitor interface {
	LowPower() bool
}

// PowerFunc adapts a function to PowerMonitor.
type PowerFunc func() bool

func (f PowerFunc) LowPower() bool { return f() }

const (
	// LowMemoryPercent is the available-memory share below which the
	// device counts as constrained.
	LowMemoryPercent = 15.0
	// HighCPUPercent is the CPU usage above which the device counts as
	// constrained.
	HighCPUPercent = 85.0

	powerCacheTTL = 10 * time.Second
	powerCacheKey = "low-power"
)

// SystemPowerMonitor derives the power state from system load and a manual
// override. Readings are cached because sampling CPU usage is not free and
// the scheduler asks once per cycle.
type SystemPowerMonitor struct {
	manual func() bool
	cache  *cache.Cache

	// replaced in tests
	availableMemory func() (float64, error)
	cpuUsage        func() (float64, error)

	log logger.Logger
}

// NewSystemPowerMonitor creates a monitor. manual may be nil.
func NewSystemPowerMonitor(manual func() bool) *SystemPowerMonitor {
	return &SystemPowerMonitor{
		manual:          manual,
		cache:           cache.New(powerCacheTTL, 0),
		availableMemory: availableMemoryPercent,
		cpuUsage:        cpuPercent,
		log:             GetLogger(),
	}
}

// LowPower reports the manual override, or the cached system reading.
func (m *SystemPowerMonitor) LowPower() bool {
	if m.manual != nil && m.manual() {
		return true
	}
	if v, ok := m.cache.Get(powerCacheKey); ok {
		return v.(bool)
	}

	low := m.sample()
	m.cache.SetDefault(powerCacheKey, low)
	return low
}

func (m *SystemPowerMonitor) sample() bool {
	// a failed reading counts as normal power so capture keeps its pace
	if avail, err := m.availableMemory(); err != nil {
		m.log.Debug("memory reading failed", logger.Error(err))
	} else if avail < LowMemoryPercent {
		m.log.Debug("low memory, using low power floor", logger.Float64("available_percent", avail))
		return true
	}

	if usage, err := m.cpuUsage(); err != nil {
		m.log.Debug("cpu reading failed", logger.Error(err))
	} else if usage > HighCPUPercent {
		m.log.Debug("high cpu load, using low power floor", logger.Float64("cpu_percent", usage))
		return true
	}
	return false
}

func availableMemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	if vm.Total == 0 {
		return 100, nil
	}
	return float64(vm.Available) / float64(vm.Total) * 100, nil
}

func cpuPercent() (float64, error) {
	p, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return p[0], nil
}
