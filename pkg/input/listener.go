// Package input registers interest in motion, touch and key input devices
// and fires a callback on every event. Only the event's arrival matters;
// payloads are discarded.
package input

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

const defaultDeviceDir = "/dev/input"

// Handler receives a callback per input event from any watched device.
type Handler interface {
	InputEvent()
}

// Listener owns one reader per matched input device and tracks device
// hotplug. Construction scans and attaches existing devices; Start runs the
// hotplug watch until ctx is cancelled, then stops every reader.
type Listener interface {
	Start(ctx context.Context) error
	Devices() []string
}

type listenerImpl struct {
	devDir  string
	handler Handler
	logger  logr.Logger
	watcher *fsnotify.Watcher
	readers sync.Map
}

// NewListener watches devDir (or /dev/input when empty) for event devices
// matching the touchscreen, touchpad and keypad classes. A failure to set up
// the watch or scan the directory unwinds everything already attached and
// returns the error.
func NewListener(devDir string, handler Handler, logger logr.Logger) (Listener, error) {
	if handler == nil {
		return nil, fmt.Errorf("input handler must not be nil")
	}
	if devDir == "" {
		devDir = defaultDeviceDir
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create device watcher: %w", err)
	}
	if err := watcher.Add(devDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", devDir, err)
	}

	l := &listenerImpl{
		devDir:  devDir,
		handler: handler,
		logger:  logger,
		watcher: watcher,
	}

	entries, err := os.ReadDir(devDir)
	if err != nil {
		l.stop()
		return nil, fmt.Errorf("failed to scan %s: %w", devDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "event") {
			continue
		}
		l.attach(name)
	}

	return l, nil
}

func (l *listenerImpl) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.stop()
			return nil
		case event, ok := <-l.watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !strings.HasPrefix(name, "event") {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				l.attach(name)
			}
			if event.Op.Has(fsnotify.Remove) {
				l.detach(name)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error(err, "device watcher error")
		}
	}
}

func (l *listenerImpl) Devices() []string {
	devices := make([]string, 0)
	l.readers.Range(func(key, value any) bool {
		devices = append(devices, key.(string))
		return true
	})
	return devices
}

// attach opens a reader for the named device if it matches a watched class.
// Per-device failures are logged and skipped; the device simply stays
// unwatched, as other devices are unaffected.
func (l *listenerImpl) attach(name string) {
	if _, found := l.readers.Load(name); found {
		return
	}

	path := filepath.Join(l.devDir, name)
	if !isEventDeviceNodeFunction(path) {
		l.logger.V(5).Info("skipping non-device node", "device", name)
		return
	}

	matches, err := deviceMatches(name)
	if err != nil {
		l.logger.Error(err, "failed to read device capabilities", "device", name)
		return
	}
	if !matches {
		l.logger.V(5).Info("device does not match watched classes", "device", name)
		return
	}

	reader, err := newDeviceReaderFunc(name, path, l.handler, l.logger)
	if err != nil {
		l.logger.Error(err, "failed to attach input device", "device", name)
		return
	}

	l.readers.Store(name, reader)
	l.logger.V(5).Info("attached input device", "device", name)
}

func (l *listenerImpl) detach(name string) {
	reader, found := l.readers.LoadAndDelete(name)
	if !found {
		return
	}
	reader.(eventReader).Stop()
	l.logger.V(5).Info("detached input device", "device", name)
}

func (l *listenerImpl) stop() {
	l.watcher.Close()
	l.readers.Range(func(key, value any) bool {
		value.(eventReader).Stop()
		l.readers.Delete(key)
		return true
	})
	l.logger.V(5).Info("successfully stopped all device readers")
}
