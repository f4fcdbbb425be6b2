package input

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// Event codes from the Linux input subsystem, limited to what device-class
// matching needs.
const (
	evKey = 0x01
	evAbs = 0x03

	absX           = 0x00
	absY           = 0x01
	absMTPositionX = 0x35
	absMTPositionY = 0x36

	btnTouch = 0x14a
)

// eventRecordSize is sizeof(struct input_event) on 64-bit Linux: a 16-byte
// timeval followed by type, code and value. The payload is never inspected,
// only the record boundaries matter.
const eventRecordSize = 24

const capabilitiesBasePath = "/sys/class/input"

func getCapabilityPath(device, kind string) string {
	return filepath.Join(capabilitiesBasePath, device, "device", "capabilities", kind)
}

// eventReader is the per-device reader handle owned by the listener.
type eventReader interface {
	Stop()
}

// Func definitions for unit testing
var (
	getCapabilityPathFunction = getCapabilityPath
	isEventDeviceNodeFunction = isEventDeviceNode
	newDeviceReaderFunc       = func(name, path string, handler Handler, logger logr.Logger) (eventReader, error) {
		return newDeviceReader(name, path, handler, logger)
	}
)

func isEventDeviceNode(path string) bool {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return false
	}
	return stat.Mode&unix.S_IFMT == unix.S_IFCHR
}

// capMask is a kernel capability bitmask as exposed in sysfs: hex words
// separated by spaces, most significant word first.
type capMask []uint64

func parseCapMask(s string) (capMask, error) {
	words := strings.Fields(strings.TrimSpace(s))
	mask := make(capMask, len(words))
	for i, word := range words {
		value, err := strconv.ParseUint(word, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid capability word %q: %w", word, err)
		}
		// sysfs prints the highest word first
		mask[len(words)-1-i] = value
	}
	return mask, nil
}

func (m capMask) has(bit uint) bool {
	word := bit / 64
	if int(word) >= len(m) {
		return false
	}
	return m[word]&(1<<(bit%64)) != 0
}

func readCapMask(device, kind string) (capMask, error) {
	data, err := os.ReadFile(getCapabilityPathFunction(device, kind))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s capabilities for %s: %w", kind, device, err)
	}
	return parseCapMask(string(data))
}

// deviceMatches reports whether the named event device belongs to one of the
// watched classes: multi-touch touchscreen, touchpad or keypad.
func deviceMatches(device string) (bool, error) {
	ev, err := readCapMask(device, "ev")
	if err != nil {
		return false, err
	}

	// keypad: any device emitting key events
	if ev.has(evKey) {
		return true, nil
	}

	if !ev.has(evAbs) {
		return false, nil
	}
	abs, err := readCapMask(device, "abs")
	if err != nil {
		return false, err
	}

	// multi-touch touchscreen
	if abs.has(absMTPositionX) && abs.has(absMTPositionY) {
		return true, nil
	}

	// touchpad
	if abs.has(absX) && abs.has(absY) {
		key, err := readCapMask(device, "key")
		if err != nil {
			return false, err
		}
		if key.has(btnTouch) {
			return true, nil
		}
	}

	return false, nil
}

type deviceReader struct {
	name      string
	file      *os.File
	handler   Handler
	logger    logr.Logger
	waitGroup sync.WaitGroup
}

func newDeviceReader(name, path string, handler Handler, logger logr.Logger) (*deviceReader, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open input device %s: %w", name, err)
	}

	r := &deviceReader{
		name:    name,
		file:    file,
		handler: handler,
		logger:  logger,
	}
	r.waitGroup.Add(1)
	go r.runLoop()

	return r, nil
}

func (r *deviceReader) Stop() {
	r.file.Close()
	r.waitGroup.Wait()
}

func (r *deviceReader) runLoop() {
	defer r.waitGroup.Done()

	buf := make([]byte, eventRecordSize*64)
	for {
		n, err := r.file.Read(buf)
		if err != nil {
			if !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
				r.logger.Error(err, "input device read failed", "device", r.name)
			}
			return
		}

		// only arrival matters, the payload is ignored
		for off := 0; off+eventRecordSize <= n; off += eventRecordSize {
			r.handler.InputEvent()
		}
	}
}
