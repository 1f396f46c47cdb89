package renderer

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ShaderWatcher records which watched shader files changed on disk. GL calls
// must stay on the render thread, so the watcher only queues names; the
// renderer drains them at the start of each frame.
type ShaderWatcher struct {
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	pending map[string]struct{}

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewShaderWatcher(logger zerolog.Logger) (*ShaderWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sw := &ShaderWatcher{
		watcher: watcher,
		logger:  logger,
		watched: make(map[string]struct{}),
		pending: make(map[string]struct{}),
		done:    make(chan struct{}),
	}

	sw.wg.Add(1)
	go sw.watchLoop()
	return sw, nil
}

// Watch adds files. Their parent directories are watched so editors that
// replace files on save are still seen.
func (sw *ShaderWatcher) Watch(paths ...string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	dirs := make(map[string]struct{})
	for _, p := range paths {
		p = filepath.Clean(p)
		dir := filepath.Dir(p)
		if _, ok := dirs[dir]; !ok {
			if err := sw.watcher.Add(dir); err != nil {
				return err
			}
			dirs[dir] = struct{}{}
		}
		sw.watched[p] = struct{}{}
	}
	return nil
}

// Drain returns the changed files since the last call, sorted.
func (sw *ShaderWatcher) Drain() []string {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.pending) == 0 {
		return nil
	}
	out := make([]string, 0, len(sw.pending))
	for p := range sw.pending {
		out = append(out, p)
	}
	clear(sw.pending)
	sort.Strings(out)
	return out
}

func (sw *ShaderWatcher) watchLoop() {
	defer sw.wg.Done()
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Clean(event.Name)
			sw.mu.Lock()
			if _, ok := sw.watched[name]; ok {
				sw.pending[name] = struct{}{}
			}
			sw.mu.Unlock()
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn().Err(err).Msg("Shader watcher error")
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (sw *ShaderWatcher) Close() error {
	var err error
	sw.once.Do(func() {
		close(sw.done)
		err = sw.watcher.Close()
		sw.wg.Wait()
	})
	return err
}
