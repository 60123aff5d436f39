package rulepack

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

//go:embed rules/default_rules.json
var defaultPackData []byte

// DefaultWatchDebounce delays reloads after a change event so editors that
// fire several events in quick succession trigger one reload.
const DefaultWatchDebounce = 50 * time.Millisecond

// pollInterval is the mtime-check fallback period for platforms where
// fsnotify is unreliable (network mounts, some containers).
const pollInterval = 2 * time.Second

// LoaderOptions configures a rule-pack Loader.
type LoaderOptions struct {
	// Path of the pack file. Empty means the embedded default pack.
	Path string
	// Watch enables hot reload (ignored for the embedded pack).
	Watch bool
	// WatchDebounceMs overrides the reload debounce (0 = default 50ms).
	WatchDebounceMs int
	// Logger receives load warnings and reload outcomes.
	Logger zerolog.Logger
	// OnReload, when set, observes every reload attempt's outcome.
	OnReload func(version string, err error)
}

// Loader owns the live rule pack: initial load, validation, and hot reload
// via a filesystem watch plus a periodic mtime check. Reloads swap the
// compiled pack atomically; in-flight evaluations continue with the set
// they started with.
type Loader struct {
	path      string
	debounce  time.Duration
	logger    zerolog.Logger
	onReload  func(string, error)
	pack      atomic.Pointer[CompiledPack]
	lastMtime atomic.Int64

	done      chan struct{}
	watchWG   sync.WaitGroup
	closeOnce sync.Once
}

// NewLoader loads the pack (failing loudly on a missing or structurally
// broken file) and, when requested, starts the watch machinery.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	l := &Loader{
		path:     opts.Path,
		debounce: DefaultWatchDebounce,
		logger:   opts.Logger,
		onReload: opts.OnReload,
		done:     make(chan struct{}),
	}
	if opts.WatchDebounceMs > 0 {
		l.debounce = time.Duration(opts.WatchDebounceMs) * time.Millisecond
	}

	data, err := l.readPack()
	if err != nil {
		return nil, err
	}
	pack, err := ParsePack(data, l.logger)
	if err != nil {
		return nil, err
	}
	l.pack.Store(pack)

	if opts.Watch && l.path != "" {
		l.watchWG.Add(1)
		go l.watch()
	}
	return l, nil
}

// Current returns the live compiled pack. Callers must not retain it across
// audits if they want reloads picked up.
func (l *Loader) Current() *CompiledPack {
	return l.pack.Load()
}

// Close stops the watch goroutine. Safe to call multiple times, and safe on
// loaders that never watched.
func (l *Loader) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.watchWG.Wait()
	return nil
}

func (l *Loader) readPack() ([]byte, error) {
	if l.path == "" {
		return defaultPackData, nil
	}
	data, err := os.ReadFile(l.path) //nolint:gosec // G304: caller controls path
	if err != nil {
		return nil, fmt.Errorf("reading rule pack: %w", err)
	}
	if info, err := os.Stat(l.path); err == nil {
		l.lastMtime.Store(info.ModTime().UnixNano())
	}
	return data, nil
}

// watch runs the fsnotify watcher and the mtime-poll fallback until Close.
// Watching the directory (not the file) catches editors that replace the
// file via rename.
func (l *Loader) watch() {
	defer l.watchWG.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Warn().Err(err).Msg("rule pack watcher unavailable, falling back to polling only")
		watcher = nil
	} else {
		if err := watcher.Add(filepath.Dir(l.path)); err != nil {
			l.logger.Warn().Err(err).Str("path", l.path).Msg("watching rule pack directory failed")
		}
		defer func() { _ = watcher.Close() }()
	}

	var events chan fsnotify.Event
	var errors chan error
	if watcher != nil {
		events = watcher.Events
		errors = watcher.Errors
	}

	baseName := filepath.Base(l.path)
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	var debounce <-chan time.Time

	for {
		select {
		case <-l.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != baseName {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(l.debounce)
			}
		case <-debounce:
			debounce = nil
			l.tryReload()
		case <-poll.C:
			if l.mtimeChanged() {
				debounce = time.After(l.debounce)
			}
		case _, ok := <-errors:
			if !ok {
				errors = nil
			}
			// Watcher errors are non-fatal; the poll fallback keeps working.
		}
	}
}

// mtimeChanged reports whether the pack file's mtime moved since the last
// successful observation.
func (l *Loader) mtimeChanged() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	mtime := info.ModTime().UnixNano()
	return mtime != l.lastMtime.Load()
}

// tryReload loads and validates the pack, swapping it in on success. On
// failure the old pack stays live.
func (l *Loader) tryReload() {
	data, err := l.readPack()
	if err == nil {
		var pack *CompiledPack
		pack, err = ParsePack(data, l.logger)
		if err == nil {
			l.pack.Store(pack)
			l.logger.Info().
				Str("version", pack.Version).
				Int("rules", pack.Len()).
				Int("skipped", pack.Skipped).
				Msg("rule pack reloaded")
			if l.onReload != nil {
				l.onReload(pack.Version, nil)
			}
			return
		}
	}
	l.logger.Warn().Err(err).Str("path", l.path).Msg("rule pack reload failed, keeping previous pack")
	if l.onReload != nil {
		l.onReload("", err)
	}
}
