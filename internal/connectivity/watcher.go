package connectivity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FlagFileName is the marker file that forces offline mode when present in
// the data directory.
const FlagFileName = "offline"

// SetOfflineFlag creates or removes the marker file in dataDir.
func SetOfflineFlag(dataDir string, on bool) error {
	path := filepath.Join(dataDir, FlagFileName)
	if !on {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove offline flag: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("failed to write offline flag: %w", err)
	}
	return nil
}

// OfflineFlagSet reports whether the marker file exists in dataDir.
func OfflineFlagSet(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, FlagFileName))
	return err == nil
}

// FlagWatcher mirrors the marker file into a Monitor's forced-offline flag.
// It uses fsnotify on the data directory so toggles made by another
// process (the CLI) reach a running daemon.
type FlagWatcher struct {
	monitor *Monitor
	dataDir string
	logger  logrus.FieldLogger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFlagWatcher creates a FlagWatcher. It must be started with Start().
func NewFlagWatcher(m *Monitor, dataDir string, logger logrus.FieldLogger) *FlagWatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FlagWatcher{
		monitor: m,
		dataDir: dataDir,
		logger:  logger,
	}
}

// Start applies the current flag state and begins watching for changes.
func (fw *FlagWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := os.MkdirAll(fw.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(fw.dataDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch data directory %s: %w", fw.dataDir, err)
	}

	fw.watcher = watcher
	fw.done = make(chan struct{})
	fw.running = true

	fw.monitor.SetForcedOffline(OfflineFlagSet(fw.dataDir))

	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Stop stops watching. It blocks until the event loop has exited.
func (fw *FlagWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// IsRunning returns true if the watcher is currently running.
func (fw *FlagWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FlagWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != FlagFileName {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				fw.monitor.SetForcedOffline(true)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				// Rename away is a removal; a rename back in arrives as Create.
				fw.monitor.SetForcedOffline(OfflineFlagSet(fw.dataDir))
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.WithError(err).Warn("offline flag watcher error")
		}
	}
}
