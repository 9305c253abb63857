package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

type FileState int

const (
	StateArchived FileState = iota
	StateBad
)

type WatcherConfig struct {
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	MonitoringTime time.Duration
	CheckInterval  time.Duration
}

// HandleFunc ingests one settled file.
type HandleFunc func(ctx context.Context, filePath string) error

// Watcher follows SourceDir through fsnotify events and hands over files
// that received no event for MonitoringTime. Handled files are moved to the
// archive or the bad folder.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger
	now    func() time.Time

	FileMutex       sync.Mutex
	FileFirstSeen   map[string]time.Time
	FileStamp       map[string]fileStamp
	FilesProcessing map[string]bool
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

func NewWatcher(cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:             cfg,
		logger:          logger,
		now:             time.Now,
		FileFirstSeen:   make(map[string]time.Time),
		FileStamp:       make(map[string]fileStamp),
		FilesProcessing: make(map[string]bool),
	}, nil
}

// WatchFile subscribes to SourceDir and sends settled files to fileChan
// until ctx is cancelled. Files already present at start are tracked too.
func (w *Watcher) WatchFile(ctx context.Context, fileChan chan<- string) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("[WATCHER] error creating fsnotify watcher", "err", err)
		return
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.SourceDir); err != nil {
		w.logger.Error("[WATCHER] error watching source directory", "dir", w.cfg.SourceDir, "err", err)
		return
	}
	w.logger.Info("[WATCHER] start monitoring folder", "dir", w.cfg.SourceDir)
	defer w.logger.Info("[WATCHER] file watcher stopped")

	w.seed()

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("[WATCHER] fsnotify error", "err", err)
		case <-ticker.C:
			for _, filePath := range w.settled() {
				select {
				case fileChan <- filePath:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// seed tracks files that were dropped in before the watcher started.
func (w *Watcher) seed() {
	entries, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		w.logger.Error("[WATCHER] error while reading source directory", "err", err)
		return
	}
	for _, entry := range entries {
		w.handleEvent(fsnotify.Event{
			Name: filepath.Join(w.cfg.SourceDir, entry.Name()),
			Op:   fsnotify.Create,
		})
	}
}

// handleEvent restarts the settle timer of created or written files and
// drops renamed or removed ones.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	filePath := filepath.Clean(event.Name)
	if strings.HasPrefix(filepath.Base(filePath), ".") {
		return
	}

	w.FileMutex.Lock()
	defer w.FileMutex.Unlock()

	if w.FilesProcessing[filePath] {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if _, ok := w.FileFirstSeen[filePath]; ok {
			delete(w.FileFirstSeen, filePath)
			delete(w.FileStamp, filePath)
			w.logger.Debug("[WATCHER] file removed from tracking", "file", filePath)
		}
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(filePath)
		if err != nil || info.IsDir() {
			return
		}
		if _, ok := w.FileFirstSeen[filePath]; !ok {
			w.logger.Info("[WATCHER] new file detected", "file", filePath)
		}
		w.FileFirstSeen[filePath] = w.now()
		w.FileStamp[filePath] = fileStamp{size: info.Size(), modTime: info.ModTime()}
	}
}

// settled returns tracked files whose last event is older than
// MonitoringTime and marks them as processing. A file whose size or mtime
// moved without an event starts its wait again.
func (w *Watcher) settled() []string {
	w.FileMutex.Lock()
	defer w.FileMutex.Unlock()

	now := w.now()
	var ready []string
	for filePath, seen := range w.FileFirstSeen {
		if w.FilesProcessing[filePath] || now.Sub(seen) < w.cfg.MonitoringTime {
			continue
		}

		info, err := os.Stat(filePath)
		if err != nil {
			delete(w.FileFirstSeen, filePath)
			delete(w.FileStamp, filePath)
			continue
		}
		stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
		if stamp != w.FileStamp[filePath] {
			w.FileFirstSeen[filePath] = now
			w.FileStamp[filePath] = stamp
			continue
		}

		w.FilesProcessing[filePath] = true
		ready = append(ready, filePath)
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) ProcessFile(ctx context.Context, fileChan <-chan string, handle HandleFunc) {
	defer w.logger.Info("[WATCHER] file processor stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case filePath, ok := <-fileChan:
			if !ok {
				return
			}

			w.logger.Info("[WATCHER] processing file", "file", filePath)
			err := handle(ctx, filePath)

			if ctx.Err() != nil {
				// Leave the file in place so the next run picks it up.
				w.forget(filePath)
				return
			}

			state := StateArchived
			if err != nil {
				w.logger.Error("[WATCHER] error processing file", "file", filePath, "err", err)
				state = StateBad
			}
			if _, err := w.MoveToArchive(filePath, state); err != nil {
				w.logger.Error("[WATCHER] error moving file", "file", filePath, "err", err)
			}
			w.forget(filePath)
		}
	}
}

func (w *Watcher) forget(filePath string) {
	w.FileMutex.Lock()
	defer w.FileMutex.Unlock()
	delete(w.FilesProcessing, filePath)
	delete(w.FileFirstSeen, filePath)
	delete(w.FileStamp, filePath)
}

// MoveToArchive moves the file into a dated subfolder of the archive or bad
// folder and returns its new path. Name clashes get a numeric suffix.
func (w *Watcher) MoveToArchive(filePath string, state FileState) (string, error) {
	base := w.cfg.ArchiveDir
	if state == StateBad {
		base = w.cfg.BadDir
	}

	destDir := filepath.Join(base, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))
	ext := filepath.Ext(destPath)
	baseName := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
	}

	if err := os.Rename(filePath, destPath); err != nil {
		// Rename fails across devices; fall back to copy and remove.
		if err := copyFile(filePath, destPath); err != nil {
			return "", err
		}
		if err := os.Remove(filePath); err != nil {
			return "", err
		}
	}

	w.logger.Info("[WATCHER] file moved", "from", filePath, "to", destPath)
	return destPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DocumentID derives a stable document id from the absolute file path.
func DocumentID(filePath string) string {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		abs = filePath
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
