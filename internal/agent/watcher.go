package agent

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/localsession/sessiond/internal/collector"
	"github.com/localsession/sessiond/internal/protocol"
	"github.com/localsession/sessiond/internal/transcript"
)

// debounceWindow matches how long a burst of writes to the same
// transcript file is allowed to settle before collection runs once for
// the whole burst, rather than once per write.
const debounceWindow = 2 * time.Second

// safetyPollInterval is the belt-and-suspenders full rescan period: an
// fsnotify watch can silently miss events (editor atomic-rename saves,
// watch descriptor exhaustion, a root created after startup), so a
// periodic full collection closes that gap without depending on it for
// normal-case latency.
const safetyPollInterval = 2 * time.Second

// Watcher watches every transcript adapter's root directories for
// changes and feeds them into the collector, broadcasting a NewMessage
// push for whatever it actually inserts.
type Watcher struct {
	coll        *collector.Collector
	broadcaster *Broadcaster
	fsWatcher   *fsnotify.Watcher
	extensions  map[string]bool

	mu        sync.Mutex
	debounced map[string]*time.Timer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher builds a Watcher over every registered transcript adapter.
func NewWatcher(coll *collector.Collector, broadcaster *Broadcaster) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	extensions := make(map[string]bool)
	for _, adapter := range transcript.All() {
		for _, ext := range adapter.Extensions() {
			extensions[ext] = true
		}
	}

	return &Watcher{
		coll:        coll,
		broadcaster: broadcaster,
		fsWatcher:   fsWatcher,
		extensions:  extensions,
		debounced:   make(map[string]*time.Timer),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins watching every adapter root and launches the event and
// safety-poll loops. It never fails on an individual root that can't be
// watched (e.g. a CLI family the user doesn't have installed) — it logs
// and continues with the rest.
func (w *Watcher) Start() error {
	for _, adapter := range transcript.All() {
		for _, root := range adapter.Roots() {
			if root == "" {
				continue
			}
			if err := w.watchRecursive(root); err != nil {
				log.Printf("agent: watcher: skipping %s root %s: %v", adapter.Source(), root, err)
			}
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.pollLoop()

	return nil
}

// Stop halts both loops and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.fsWatcher.Close()
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A root that doesn't exist yet (CLI never used) is not an error.
			return fs.SkipDir
		}
		if d.IsDir() {
			if err := w.fsWatcher.Add(path); err != nil {
				log.Printf("agent: watcher: failed to watch %s: %v", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("agent: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// A newly created directory (e.g. a new project folder under
			// Claude Code's per-project layout) needs its own watch.
			w.fsWatcher.Add(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(event.Name), ".")
	if !w.extensions[ext] {
		return
	}

	w.debounce(event.Name)
}

func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.debounced[path]; ok {
		t.Reset(debounceWindow)
		return
	}
	w.debounced[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.debounced, path)
		w.mu.Unlock()
		if err := w.TriggerCollect(path); err != nil {
			log.Printf("agent: watcher: collection failed for %s: %v", path, err)
		}
	})
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(safetyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			result, inserts := w.coll.CollectAllNotify()
			if result.MessagesInserted > 0 {
				log.Printf("agent: safety poll: %d sessions scanned, %d new messages",
					result.SessionsScanned, result.MessagesInserted)
			}
			for _, ins := range inserts {
				w.broadcaster.Broadcast(protocol.Push{
					Type:       protocol.EventNewMessage,
					SessionID:  ins.SessionID,
					Path:       ins.Path,
					Count:      len(ins.MessageIDs),
					MessageIDs: ins.MessageIDs,
				})
			}
		}
	}
}

// TriggerCollect runs the collector against a single transcript path and
// broadcasts a NewMessage push for whatever it inserts. It is called
// both from the debounced fsnotify path and directly from the request
// handler for NotifyFileChange/HookEvent frames.
func (w *Watcher) TriggerCollect(path string) error {
	result, ids, err := w.coll.CollectByPath(path)
	if err != nil {
		return err
	}
	if result.MessagesInserted == 0 {
		return nil
	}

	sessionID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	w.broadcaster.Broadcast(protocol.Push{
		Type:       protocol.EventNewMessage,
		SessionID:  sessionID,
		Path:       path,
		Count:      result.MessagesInserted,
		MessageIDs: ids,
	})
	return nil
}
