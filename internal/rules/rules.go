package rules

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/formai-apps/kyuyoagent/internal/logger"
)

// Document is a single rule file loaded from the rule directory.
type Document struct {
	Name    string
	Path    string
	Content string
}

// Loader reads rule documents from a directory and caches their contents.
// A filesystem watcher invalidates the cache when rule files change on
// disk, so edits to rules take effect without restarting the process.
type Loader struct {
	dir       string
	log       *logger.Logger
	mu        sync.RWMutex
	cache     map[string]string
	docs      []Document
	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
}

// NewLoader creates a rule loader rooted at dir. The directory does not
// have to exist yet; loads fail until it does.
func NewLoader(dir string) *Loader {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Global().Warn("failed to create rule watcher: %v", err)
	}

	l := &Loader{
		dir:       dir,
		log:       logger.Global().WithPrefix("rules"),
		cache:     make(map[string]string),
		watcher:   watcher,
		stopWatch: make(chan struct{}),
	}

	if watcher != nil {
		if err := watcher.Add(dir); err != nil {
			l.log.Debug("rule directory not watched yet: %v", err)
		}
		go l.watchChanges()
	}

	return l
}

// Dir returns the rule directory this loader reads from.
func (l *Loader) Dir() string {
	return l.dir
}

// Close stops the filesystem watcher.
func (l *Loader) Close() error {
	close(l.stopWatch)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// watchChanges monitors filesystem events and drops cached rule content.
func (l *Loader) watchChanges() {
	for {
		select {
		case <-l.stopWatch:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.mu.Lock()
			l.cache = make(map[string]string)
			l.docs = nil
			l.mu.Unlock()
			// New subdirectories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := l.watcher.Add(event.Name); err != nil {
						l.log.Warn("failed to watch rule directory %s: %v", event.Name, err)
					}
				}
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Error("rule watcher error: %v", err)
		}
	}
}

// Load returns the content of one rule file, named relative to the rule
// directory. A leading UTF-8 BOM is stripped.
func (l *Loader) Load(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("rule file name is empty")
	}

	l.mu.RLock()
	content, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return content, nil
	}

	path := filepath.Join(l.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	content = strings.TrimPrefix(string(data), "\uFEFF")

	l.mu.Lock()
	l.cache[name] = content
	l.mu.Unlock()

	return content, nil
}

// Documents loads every rule document under the rule directory,
// recursively. Only .md files count as rules; files whose name contains
// 説明用 or sample are excluded from the corpus.
func (l *Loader) Documents() ([]Document, error) {
	l.mu.RLock()
	if l.docs != nil {
		docs := l.docs
		l.mu.RUnlock()
		return docs, nil
	}
	l.mu.RUnlock()

	var docs []Document
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if l.watcher != nil {
				if err := l.watcher.Add(path); err != nil {
					l.log.Warn("failed to watch rule directory %s: %v", path, err)
				}
			}
			return nil
		}
		name := d.Name()
		if filepath.Ext(name) != ".md" {
			return nil
		}
		if strings.Contains(name, "説明用") || strings.Contains(name, "sample") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, Document{
			Name:    name,
			Path:    path,
			Content: strings.TrimPrefix(string(data), "\uFEFF"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk rule directory %s: %w", l.dir, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("フォルダ『%s』の下にルールが見つからないです", l.dir)
	}

	l.mu.Lock()
	l.docs = docs
	l.mu.Unlock()

	return docs, nil
}
