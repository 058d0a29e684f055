// Package watcher detects new files in the watch directories, deduplicates
// them against the in-memory registry and persisted activities, and hands
// them to the processing pipeline. Each file is processed on its own
// goroutine; a failure in one file never stops the watcher for others.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aureopos/aureo/internal/outlets"
	"github.com/aureopos/aureo/internal/pipeline"
	"github.com/aureopos/aureo/internal/storage"
)

// Notifier receives watcher lifecycle and detection events.
type Notifier interface {
	WatcherActive(active bool)
	FileDetected(a storage.FileActivity)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) WatcherActive(bool)                {}
func (NopNotifier) FileDetected(storage.FileActivity) {}

var excelExts = map[string]bool{".xlsx": true, ".xls": true, ".xlsm": true, ".csv": true}

// Coordinator owns the processed-path registry and dispatches detected files
// into the pipeline. The registry is rebuilt on startup from the procesados/
// directories and terminal activities, so already-done files are never
// reprocessed across restarts.
type Coordinator struct {
	store    *storage.Store
	proc     *pipeline.Processor
	notify   Notifier
	excelDir string
	pdfDir   string
	debounce time.Duration
	logger   *slog.Logger

	enabled atomic.Bool

	mu   sync.Mutex
	seen map[string]struct{}

	wg sync.WaitGroup
}

// New creates a Coordinator. If debounce is <= 0 it defaults to 2s, the
// quiet period after the last write before a file counts as fully written.
func New(store *storage.Store, proc *pipeline.Processor, notify Notifier, excelDir, pdfDir string, debounce time.Duration) *Coordinator {
	if notify == nil {
		notify = NopNotifier{}
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	c := &Coordinator{
		store:    store,
		proc:     proc,
		notify:   notify,
		excelDir: excelDir,
		pdfDir:   pdfDir,
		debounce: debounce,
		logger:   slog.Default(),
		seen:     make(map[string]struct{}),
	}
	c.enabled.Store(true)
	return c
}

// SetEnabled toggles dispatching. Detection events still fire while disabled;
// files are simply not dispatched and stay in the watch directory.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
	c.notify.WatcherActive(enabled)
}

// Enabled reports whether dispatching is active.
func (c *Coordinator) Enabled() bool {
	return c.enabled.Load()
}

// Run watches both directories until ctx is cancelled. The registry is
// rebuilt and a one-shot sweep of pre-existing files runs first, so files
// dropped while the process was down are picked up.
func (c *Coordinator) Run(ctx context.Context) error {
	for _, dir := range []string{c.excelDir, c.pdfDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating watch directory %s: %w", dir, err)
		}
	}
	if err := c.RebuildRegistry(); err != nil {
		return err
	}

	c.notify.WatcherActive(true)
	defer c.notify.WatcherActive(false)

	if err := c.ScanOnce(); err != nil {
		c.logger.Error("initial sweep failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.watch(ctx, c.excelDir, storage.FileTypeExcel) })
	g.Go(func() error { return c.watch(ctx, c.pdfDir, storage.FileTypePDF) })

	err := g.Wait()
	c.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Coordinator) watch(ctx context.Context, dir, fileType string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	c.logger.Info("watching directory", "dir", dir, "file_type", fileType)

	// Per-path debounce: a file counts as stable after a quiet period with
	// no further write events. Draining on exit keeps pending timers from
	// dispatching after the loop has returned.
	deb := newDebouncer(c.debounce, func(path string) {
		c.Dispatch(path, fileType)
	})
	defer deb.drain()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if c.eligible(ev.Name, fileType) {
				deb.schedule(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("watch error", "dir", dir, "error", err)
		}
	}
}

// debouncer coalesces repeated per-path events and fires fn once a path has
// been quiet for the full delay. fn runs under the debouncer lock, so drain
// returning guarantees no fn call is in flight or forthcoming.
type debouncer struct {
	delay time.Duration
	fn    func(path string)

	mu       sync.Mutex
	timers   map[string]*time.Timer
	draining bool
}

func newDebouncer(delay time.Duration, fn func(path string)) *debouncer {
	return &debouncer{
		delay:  delay,
		fn:     fn,
		timers: make(map[string]*time.Timer),
	}
}

func (d *debouncer) schedule(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		return
	}
	if t, ok := d.timers[path]; ok {
		t.Reset(d.delay)
		return
	}
	d.timers[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.draining {
			return
		}
		delete(d.timers, path)
		d.fn(path)
	})
}

// drain stops every pending timer and suppresses late-firing ones.
func (d *debouncer) drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draining = true
	for path, t := range d.timers {
		t.Stop()
		delete(d.timers, path)
	}
}

// eligible filters out dotfiles, the procesados/ subdirectory and extensions
// the directory's pipeline does not handle.
func (c *Coordinator) eligible(path, fileType string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.Contains(path, string(filepath.Separator)+pipeline.ProcessedDirName+string(filepath.Separator)) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	if fileType == storage.FileTypePDF {
		return ext == ".pdf"
	}
	return excelExts[ext]
}

// ScanOnce sweeps both watch directories and dispatches every eligible file
// already present. Used at startup and by the one-shot CLI command.
func (c *Coordinator) ScanOnce() error {
	dirs := []struct {
		dir      string
		fileType string
	}{
		{c.excelDir, storage.FileTypeExcel},
		{c.pdfDir, storage.FileTypePDF},
	}
	for _, d := range dirs {
		entries, err := os.ReadDir(d.dir)
		if err != nil {
			return fmt.Errorf("reading %s: %w", d.dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(d.dir, e.Name())
			if c.eligible(path, d.fileType) {
				c.Dispatch(path, d.fileType)
			}
		}
	}
	return nil
}

// Wait blocks until all in-flight file goroutines finish. Test helper and
// shutdown aid.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// RebuildRegistry repopulates the processed-path set from the procesados/
// directories and from activities already in a Processed state. This is part
// of the coordinator's public contract: restart recovery depends on it.
func (c *Coordinator) RebuildRegistry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]struct{})

	for _, dir := range []string{c.excelDir, c.pdfDir} {
		entries, err := os.ReadDir(filepath.Join(dir, pipeline.ProcessedDirName))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scanning %s: %w", filepath.Join(dir, pipeline.ProcessedDirName), err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				// Register under the watch-dir path the file originally had.
				c.seen[filepath.Join(dir, e.Name())] = struct{}{}
			}
		}
	}

	processed, err := c.store.ListFileActivities(storage.StatusProcessed)
	if err != nil {
		return fmt.Errorf("listing processed activities: %w", err)
	}
	for _, a := range processed {
		c.seen[filepath.Join(c.dirFor(a.FileType), a.Filename)] = struct{}{}
	}
	return nil
}

func (c *Coordinator) dirFor(fileType string) string {
	if fileType == storage.FileTypePDF {
		return c.pdfDir
	}
	return c.excelDir
}

// Dispatch claims a path and processes it on its own goroutine. A path that
// is already claimed, disabled by configuration, or blocked by an existing
// activity is dropped.
func (c *Coordinator) Dispatch(path, fileType string) {
	if !c.enabled.Load() {
		return
	}
	if !c.claim(path) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.handle(path, fileType)
	}()
}

// claim inserts the path into the registry, returning false if it was
// already there. Check-then-insert under one lock; the persisted-activity
// lookup in handle is the second line of defense.
func (c *Coordinator) claim(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[path]; ok {
		return false
	}
	c.seen[path] = struct{}{}
	return true
}

// release frees a path so a later re-upload can start a fresh attempt.
func (c *Coordinator) release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, path)
}

func (c *Coordinator) handle(path, fileType string) {
	filename := filepath.Base(path)

	// Second line of defense: an activity already tracking this filename in
	// a non-failure state blocks a new attempt.
	if prev, err := c.store.LatestFileActivityByFilename(filename); err == nil {
		switch prev.Status {
		case storage.StatusPending, storage.StatusProcessing, storage.StatusProcessed:
			c.logger.Info("skipping already-tracked file", "filename", filename, "status", prev.Status)
			return
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		c.logger.Error("activity lookup failed", "filename", filename, "error", err)
		c.release(path)
		return
	}

	registered, err := c.store.ListOutlets(fileType)
	if err != nil {
		c.logger.Error("listing outlets failed", "filename", filename, "error", err)
		c.release(path)
		return
	}

	storeCode := pipeline.UnknownStoreCode
	detected := outlets.DetectCodeFromFilename(filename, registered)
	if o := outlets.Resolve(detected, registered); o != nil {
		storeCode = o.Code
	}

	a := storage.FileActivity{
		ID:                uuid.New().String(),
		Filename:          filename,
		StoreCode:         storeCode,
		FileType:          fileType,
		Status:            storage.StatusPending,
		ProcessingDate:    time.Now().UTC(),
		ProcessedBy:       "System",
		DetectedStoreCode: detected,
		CreatedAt:         time.Now().UTC(),
	}
	if err := c.store.CreateFileActivity(a); err != nil {
		c.logger.Error("creating activity failed", "filename", filename, "error", err)
		c.release(path)
		return
	}
	c.notify.FileDetected(a)
	c.logger.Info("file detected", "activity_id", a.ID, "filename", filename, "file_type", fileType, "store_code", storeCode)

	status := c.proc.Process(path, a)
	if status != storage.StatusProcessed {
		// Failed and pending-assignment files stay in the watch directory;
		// freeing the path lets a re-upload start a fresh attempt.
		c.release(path)
	}
}
