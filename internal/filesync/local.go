package filesync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/zbstctc/botool/internal/api"
)

// File names of the mirrored documents inside the agent's working directory.
const (
	PRDFile      = "prd.json"
	ProgressFile = "progress.txt"
)

const defaultDebounce = 100 * time.Millisecond

// LocalSource watches the agent's working directory directly and
// synthesises the same records the server would push.
type LocalSource struct {
	dir      string
	debounce time.Duration
}

// LocalOption configures a LocalSource.
type LocalOption func(*LocalSource)

// WithDebounce sets how long to wait for a burst of writes to settle.
func WithDebounce(d time.Duration) LocalOption {
	return func(l *LocalSource) { l.debounce = d }
}

// NewLocalSource watches dir.
func NewLocalSource(dir string, opts ...LocalOption) *LocalSource {
	l := &LocalSource{dir: dir, debounce: defaultDebounce}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *LocalSource) path(doc Doc) string {
	if doc == DocProgress {
		return filepath.Join(l.dir, ProgressFile)
	}
	return filepath.Join(l.dir, PRDFile)
}

func (l *LocalSource) docFor(name string) (Doc, bool) {
	switch filepath.Base(name) {
	case PRDFile:
		return DocPRD, true
	case ProgressFile:
		return DocProgress, true
	}
	return "", false
}

// read returns nil when the file does not exist.
func (l *LocalSource) read(doc Doc) *string {
	data, err := os.ReadFile(l.path(doc))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", l.path(doc)).Msg("Failed to read watched file")
		}
		return nil
	}
	s := string(data)
	return &s
}

// Watch implements Source.
func (l *LocalSource) Watch(ctx context.Context, onOpen func(), emit func(Record)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	onOpen()
	emit(InitialRecord(l.read(DocPRD), l.read(DocProgress)))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	pending := make(map[Doc]bool)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watch %s: %w", l.dir, api.ErrStreamInterrupted)
			}
			doc, ok := l.docFor(ev.Name)
			if !ok || ev.Op == fsnotify.Chmod {
				continue
			}
			pending[doc] = true
			if timer == nil {
				timer = time.NewTimer(l.debounce)
			} else {
				timer.Reset(l.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			for _, doc := range Docs {
				if pending[doc] {
					emit(UpdateRecord(doc, l.read(doc)))
				}
			}
			clear(pending)

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watch %s: %w", l.dir, api.ErrStreamInterrupted)
			}
			log.Error().Err(err).Str("dir", l.dir).Msg("Watcher error")
		}
	}
}
