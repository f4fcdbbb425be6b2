package input

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	events atomic.Int32
}

func (h *countingHandler) InputEvent() {
	h.events.Add(1)
}

// overrideCapabilities points capability lookups at temp files holding the
// given masks, keyed by capability kind.
func overrideCapabilities(t *testing.T, caps map[string]string) {
	tempDir := t.TempDir()
	for kind, mask := range caps {
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, kind), []byte(mask+"\n"), 0644))
	}

	orig := getCapabilityPathFunction
	getCapabilityPathFunction = func(device, kind string) string {
		return filepath.Join(tempDir, kind)
	}
	t.Cleanup(func() { getCapabilityPathFunction = orig })
}

func TestParseCapMask(t *testing.T) {
	mask, err := parseCapMask("3")
	require.NoError(t, err)
	assert.True(t, mask.has(0))
	assert.True(t, mask.has(1))
	assert.False(t, mask.has(2))
	assert.False(t, mask.has(64))

	// BTN_TOUCH (0x14a) lives in the sixth word
	mask, err = parseCapMask("400 0 0 0 0 0")
	require.NoError(t, err)
	assert.True(t, mask.has(btnTouch))
	assert.False(t, mask.has(0))

	_, err = parseCapMask("not-hex")
	assert.Error(t, err)
}

func TestDeviceMatchesKeypad(t *testing.T) {
	overrideCapabilities(t, map[string]string{
		"ev": "3", // EV_SYN + EV_KEY
	})

	matches, err := deviceMatches("event0")
	require.NoError(t, err)
	assert.True(t, matches)
}

func TestDeviceMatchesTouchscreen(t *testing.T) {
	overrideCapabilities(t, map[string]string{
		"ev":  "9",              // EV_SYN + EV_ABS
		"abs": "60000000000000", // ABS_MT_POSITION_X + ABS_MT_POSITION_Y
	})

	matches, err := deviceMatches("event0")
	require.NoError(t, err)
	assert.True(t, matches)
}

func TestDeviceMatchesTouchpad(t *testing.T) {
	overrideCapabilities(t, map[string]string{
		"ev":  "9",
		"abs": "3",             // ABS_X + ABS_Y
		"key": "400 0 0 0 0 0", // BTN_TOUCH
	})

	matches, err := deviceMatches("event0")
	require.NoError(t, err)
	assert.True(t, matches)
}

func TestDeviceMatchesRejectsOtherDevices(t *testing.T) {
	// accelerometer-style device: abs axes but no touch and no keys
	overrideCapabilities(t, map[string]string{
		"ev":  "9",
		"abs": "7000000", // ABS_MISC range, no positions
		"key": "0",
	})

	matches, err := deviceMatches("event0")
	require.NoError(t, err)
	assert.False(t, matches)
}

func TestDeviceMatchesMissingCapabilities(t *testing.T) {
	overrideCapabilities(t, map[string]string{})

	_, err := deviceMatches("event0")
	assert.Error(t, err)
}

func TestDeviceReaderFiresHandlerPerRecord(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "event0")
	// two full records plus a truncated tail
	require.NoError(t, os.WriteFile(path, make([]byte, eventRecordSize*2+10), 0644))

	handler := &countingHandler{}
	reader, err := newDeviceReader("event0", path, handler, logr.Discard())
	require.NoError(t, err)

	// wait for the reader to consume both records before stopping; Stop
	// closes the file first, which would otherwise race the initial read
	assert.Eventually(t, func() bool {
		return handler.events.Load() == 2
	}, 500*time.Millisecond, 10*time.Millisecond)

	reader.Stop()
	assert.Equal(t, int32(2), handler.events.Load())
}

func TestDeviceReaderOpenFailure(t *testing.T) {
	_, err := newDeviceReaderFunc("event0", filepath.Join(t.TempDir(), "missing"), &countingHandler{}, logr.Discard())
	assert.Error(t, err)
}

func TestDeviceReaderStopUnblocksRead(t *testing.T) {
	// a pipe gives a reader that blocks until closed
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	handler := &countingHandler{}
	reader := &deviceReader{
		name:    "event0",
		file:    r,
		handler: handler,
		logger:  logr.Discard(),
	}
	reader.waitGroup.Add(1)
	go reader.runLoop()

	_, err = w.Write(make([]byte, eventRecordSize))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return handler.events.Load() == 1
	}, 500*time.Millisecond, 10*time.Millisecond)

	doneCh := make(chan struct{})
	go func() {
		reader.Stop()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Stop did not unblock the device read")
	}
}
