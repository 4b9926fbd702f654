package workflows

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reports workflow publications so operators get confirmation that a
// new record was picked up. Lookups always re-read disk; the watcher is
// observability only.
type Watcher struct {
	dir      string
	onChange func(workflowID string)
}

// NewWatcher creates a watcher over dir. onChange is invoked with the
// workflow id for every created or rewritten record; it may be nil.
func NewWatcher(dir string, onChange func(workflowID string)) *Watcher {
	return &Watcher{dir: dir, onChange: onChange}
}

// Run watches until ctx is cancelled. A missing directory is not an error;
// the watcher simply exits and workflow lookups keep failing with not-found.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		log.Warn().Err(err).Str("dir", w.dir).Msg("Workflow directory not watchable")
		return nil
	}
	log.Info().Str("dir", w.dir).Msg("Watching workflow directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			id := strings.TrimSuffix(name, ".json")
			log.Info().Str("workflow", id).Msg("Workflow record published")
			if w.onChange != nil {
				w.onChange(id)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Workflow watcher error")
		}
	}
}
