package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] looks at the config file.
const DefaultWatchInterval = 2 * time.Second

// ErrWatcherStopped is returned by [Watcher.Reload] after [Watcher.Stop].
var ErrWatcherStopped = errors.New("config: watcher stopped")

// Watcher keeps a voxpipe config in sync with its file. The file is polled,
// and [Watcher.Reload] forces an immediate reread. A change that parses and
// validates replaces the current config and is reported to onChange together
// with its [ConfigDiff]. Broken edits are logged and the last good config
// stays current, so a half-saved file never reaches a session.
//
// Every check runs on the watcher's own goroutine; onChange is never called
// concurrently with itself.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, next *Config, d ConfigDiff)

	reload   chan chan error
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	current *Config
	seen    fileState
}

// fileState identifies one version of the config file. Size and mtime are
// a cheap pre-check, sum decides.
type fileState struct {
	size    int64
	modTime time.Time
	sum     [sha256.Size]byte
}

func (s fileState) sameStat(info os.FileInfo) bool {
	return s.size == info.Size() && s.modTime.Equal(info.ModTime())
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts watching it. It fails if the file does not
// hold a valid config.
func NewWatcher(path string, onChange func(old, next *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		reload:   make(chan chan error),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload rereads the file now, even if its size and mtime look unchanged,
// and returns once onChange has run. Unlike a timed check it reports a
// broken file to the caller.
func (w *Watcher) Reload(ctx context.Context) error {
	select {
	case <-w.done:
		return ErrWatcherStopped
	default:
	}
	res := make(chan error, 1)
	select {
	case w.reload <- res:
	case <-w.done:
		return ErrWatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case res := <-w.reload:
			res <- w.check(true)
		case <-ticker.C:
			if err := w.check(false); err != nil {
				slog.Warn("config: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// check applies the file if its content changed. Unless force is set a file
// whose size and mtime match the last check is not read.
func (w *Watcher) check(force bool) error {
	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()

	var info os.FileInfo
	if !force {
		var err error
		if info, err = os.Stat(w.path); err != nil {
			return err
		}
		if seen.sameStat(info) {
			return nil
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		if info != nil {
			// Report a broken file once, not on every tick.
			w.mu.Lock()
			w.seen.size, w.seen.modTime = info.Size(), info.ModTime()
			w.mu.Unlock()
		}
		return err
	}

	w.mu.Lock()
	if st.sum == w.seen.sum {
		w.seen = st
		w.mu.Unlock()
		return nil
	}
	old := w.current
	w.current, w.seen = cfg, st
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"modes", d.ModesChanged || d.DefaultModeChanged,
		"vocabulary", d.VocabularyChanged,
		"stt", d.STTChanged,
		"llm", d.LLMChanged || d.CorrectionChanged,
		"log_level", d.LogLevelChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: some changes need a restart", "sections", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return nil
}

// read parses the file and records the state it was read in.
func (w *Watcher) read() (*Config, fileState, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{
		size:    info.Size(),
		modTime: info.ModTime(),
		sum:     sha256.Sum256(buf.Bytes()),
	}, nil
}
