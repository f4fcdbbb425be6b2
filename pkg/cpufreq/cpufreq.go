// Package cpufreq drives the Linux cpufreq sysfs interface. It enumerates
// present and online CPUs and re-evaluates per-CPU frequency limits through a
// chain of registered adjust notifiers.
package cpufreq

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

const (
	cpuSysBasePath  = "/sys/devices/system/cpu"
	cpuFreqBasePath = "/sys/devices/system/cpu/cpu%d/cpufreq"
)

func getCPUFreqPath(cpu uint, resource string) string {
	cpuFreqPath := fmt.Sprintf(cpuFreqBasePath, cpu)
	return filepath.Join(cpuFreqPath, resource)
}

func getCPUTopologyPath(resource string) string {
	return filepath.Join(cpuSysBasePath, resource)
}

// Func definitions for unit testing
var (
	getCPUFreqPathFunction     = getCPUFreqPath
	getCPUTopologyPathFunction = getCPUTopologyPath
)

// AdjustNotifier is invoked during Refresh with the proposed (min, max)
// limits for a CPU and returns the adjusted pair. Notifiers must not block
// and must tolerate concurrent invocation for different CPUs.
type AdjustNotifier func(cpu uint, min, max uint32) (uint32, uint32)

// Policy exposes CPU enumeration and limit re-evaluation over sysfs.
type Policy interface {
	PresentCPUs() []uint
	OnlineCPUs() []uint
	// Refresh recomputes the effective limits for one CPU: the hardware
	// (cpuinfo_min_freq, cpuinfo_max_freq) proposal is threaded through
	// every registered notifier and the result written back to
	// scaling_min_freq and scaling_max_freq. Best-effort; errors are
	// logged, not returned.
	Refresh(cpu uint)
	RegisterAdjustNotifier(fn AdjustNotifier)
}

type sysfsPolicyImpl struct {
	logger    logr.Logger
	mu        sync.RWMutex
	notifiers []AdjustNotifier
}

func NewSysfsPolicy(logger logr.Logger) Policy {
	return &sysfsPolicyImpl{
		logger: logger,
	}
}

func (p *sysfsPolicyImpl) RegisterAdjustNotifier(fn AdjustNotifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifiers = append(p.notifiers, fn)
}

func (p *sysfsPolicyImpl) PresentCPUs() []uint {
	return p.readCPUList("present")
}

func (p *sysfsPolicyImpl) OnlineCPUs() []uint {
	return p.readCPUList("online")
}

func (p *sysfsPolicyImpl) readCPUList(resource string) []uint {
	path := getCPUTopologyPathFunction(resource)
	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Error(err, "failed to read cpu list", "resource", resource)
		return nil
	}

	cpus, err := parseCPUList(string(data))
	if err != nil {
		p.logger.Error(err, "failed to parse cpu list", "resource", resource)
		return nil
	}
	return cpus
}

func (p *sysfsPolicyImpl) Refresh(cpu uint) {
	min, err := readFreqFile(cpu, "cpuinfo_min_freq")
	if err != nil {
		p.logger.Error(err, "failed to read hardware min frequency", "cpu", cpu)
		return
	}
	max, err := readFreqFile(cpu, "cpuinfo_max_freq")
	if err != nil {
		p.logger.Error(err, "failed to read hardware max frequency", "cpu", cpu)
		return
	}

	p.mu.RLock()
	for _, fn := range p.notifiers {
		min, max = fn(cpu, min, max)
	}
	p.mu.RUnlock()

	p.logger.V(5).Info("enforcing limits", "cpu", cpu, "min", min, "max", max)

	// max first so an increased min never transiently exceeds the active max
	if err := writeFreqFile(cpu, "scaling_max_freq", max); err != nil {
		p.logger.Error(err, "failed to write max frequency", "cpu", cpu)
		return
	}
	if err := writeFreqFile(cpu, "scaling_min_freq", min); err != nil {
		p.logger.Error(err, "failed to write min frequency", "cpu", cpu)
	}
}

func readFreqFile(cpu uint, resource string) (uint32, error) {
	path := getCPUFreqPathFunction(cpu, resource)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s for CPU %d: %w", resource, cpu, err)
	}

	freq, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s for CPU %d to uint: %w", resource, cpu, err)
	}
	return uint32(freq), nil
}

func writeFreqFile(cpu uint, resource string, freq uint32) error {
	path := getCPUFreqPathFunction(cpu, resource)
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", freq)), 0644); err != nil {
		return fmt.Errorf("failed to write %s for CPU %d: %w", resource, cpu, err)
	}
	return nil
}

// parseCPUList parses the kernel cpu list format, e.g. "0-3,5,7-8".
func parseCPUList(list string) ([]uint, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}

	cpus := make([]uint, 0)
	for _, chunk := range strings.Split(list, ",") {
		first, last, found := strings.Cut(chunk, "-")

		start, err := strconv.ParseUint(strings.TrimSpace(first), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list entry %q: %w", chunk, err)
		}
		end := start
		if found {
			end, err = strconv.ParseUint(strings.TrimSpace(last), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu list entry %q: %w", chunk, err)
			}
		}
		if end < start {
			return nil, fmt.Errorf("invalid cpu list range %q", chunk)
		}

		for cpu := start; cpu <= end; cpu++ {
			cpus = append(cpus, uint(cpu))
		}
	}

	return cpus, nil
}
