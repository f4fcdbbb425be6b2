package cpufreq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644), "failed to write temp file")
	return path
}

func overrideFreqPaths(t *testing.T, files map[string]string) {
	tempDir := t.TempDir()
	paths := make(map[string]string, len(files))
	for resource, content := range files {
		paths[resource] = createTempFile(t, tempDir, resource, content)
	}

	orig := getCPUFreqPathFunction
	getCPUFreqPathFunction = func(cpu uint, resource string) string {
		path, found := paths[resource]
		if !found {
			return filepath.Join(tempDir, "missing", resource)
		}
		return path
	}
	t.Cleanup(func() { getCPUFreqPathFunction = orig })
}

func TestParseCPUList(t *testing.T) {
	for _, tc := range []struct {
		list string
		cpus []uint
	}{
		{
			list: "0-5\n",
			cpus: []uint{0, 1, 2, 3, 4, 5},
		},
		{
			list: "0-3,5,7-8",
			cpus: []uint{0, 1, 2, 3, 5, 7, 8},
		},
		{
			list: "2",
			cpus: []uint{2},
		},
		{
			list: "",
			cpus: nil,
		},
	} {
		cpus, err := parseCPUList(tc.list)
		require.NoError(t, err, "list %q", tc.list)
		assert.Equal(t, tc.cpus, cpus, "list %q", tc.list)
	}
}

func TestParseCPUListInvalid(t *testing.T) {
	for _, list := range []string{"a", "3-1", "1-", "0,,2"} {
		_, err := parseCPUList(list)
		assert.Error(t, err, "list %q", list)
	}
}

func TestOnlineCPUs(t *testing.T) {
	tempDir := t.TempDir()
	createTempFile(t, tempDir, "online", "0-3\n")
	createTempFile(t, tempDir, "present", "0-7\n")

	orig := getCPUTopologyPathFunction
	getCPUTopologyPathFunction = func(resource string) string {
		return filepath.Join(tempDir, resource)
	}
	t.Cleanup(func() { getCPUTopologyPathFunction = orig })

	p := NewSysfsPolicy(logr.Discard())
	assert.Equal(t, []uint{0, 1, 2, 3}, p.OnlineCPUs())
	assert.Equal(t, []uint{0, 1, 2, 3, 4, 5, 6, 7}, p.PresentCPUs())
}

func TestRefreshThreadsLimitsThroughNotifiers(t *testing.T) {
	overrideFreqPaths(t, map[string]string{
		"cpuinfo_min_freq": "300000\n",
		"cpuinfo_max_freq": "2000000\n",
		"scaling_min_freq": "",
		"scaling_max_freq": "",
	})

	p := NewSysfsPolicy(logr.Discard())
	p.RegisterAdjustNotifier(func(cpu uint, min, max uint32) (uint32, uint32) {
		assert.Equal(t, uint(0), cpu)
		assert.Equal(t, uint32(300000), min)
		assert.Equal(t, uint32(2000000), max)
		return 1113600, max
	})

	p.Refresh(0)

	written, err := os.ReadFile(getCPUFreqPathFunction(0, "scaling_min_freq"))
	require.NoError(t, err)
	assert.Equal(t, "1113600", string(written))

	written, err = os.ReadFile(getCPUFreqPathFunction(0, "scaling_max_freq"))
	require.NoError(t, err)
	assert.Equal(t, "2000000", string(written))
}

func TestRefreshWithoutNotifiersWritesProposal(t *testing.T) {
	overrideFreqPaths(t, map[string]string{
		"cpuinfo_min_freq": "300000\n",
		"cpuinfo_max_freq": "2000000\n",
		"scaling_min_freq": "",
		"scaling_max_freq": "",
	})

	p := NewSysfsPolicy(logr.Discard())
	p.Refresh(0)

	written, err := os.ReadFile(getCPUFreqPathFunction(0, "scaling_min_freq"))
	require.NoError(t, err)
	assert.Equal(t, "300000", string(written))
}

func TestRefreshMissingSysfsIsBestEffort(t *testing.T) {
	overrideFreqPaths(t, map[string]string{})

	p := NewSysfsPolicy(logr.Discard())
	// must not panic or write anything
	p.Refresh(3)
}

func TestRefreshChainsMultipleNotifiers(t *testing.T) {
	overrideFreqPaths(t, map[string]string{
		"cpuinfo_min_freq": "300000\n",
		"cpuinfo_max_freq": "2000000\n",
		"scaling_min_freq": "",
		"scaling_max_freq": "",
	})

	p := NewSysfsPolicy(logr.Discard())
	p.RegisterAdjustNotifier(func(cpu uint, min, max uint32) (uint32, uint32) {
		return 500000, max
	})
	p.RegisterAdjustNotifier(func(cpu uint, min, max uint32) (uint32, uint32) {
		assert.Equal(t, uint32(500000), min)
		return min, 1800000
	})

	p.Refresh(0)

	written, err := os.ReadFile(getCPUFreqPathFunction(0, "scaling_max_freq"))
	require.NoError(t, err)
	assert.Equal(t, "1800000", string(written))
}
