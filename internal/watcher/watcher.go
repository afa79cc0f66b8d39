// Package watcher tails a serial ModSecurity audit log and emits
// complete transactions as they are appended.
package watcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
)

var terminatorRe = regexp.MustCompile(`(?m)^--([a-zA-Z0-9]+)-Z--\s*$`)

// Watcher follows the audit file from its current end. Each value sent
// on Transactions is one complete transaction including its Z
// terminator.
type Watcher struct {
	path         string
	transactions chan string

	offset  int64
	pending strings.Builder
}

func New(path string) *Watcher {
	return &Watcher{
		path:         path,
		transactions: make(chan string, 64),
	}
}

// Transactions is the stream of completed transactions.
func (w *Watcher) Transactions() <-chan string {
	return w.transactions
}

// Run tails the file until the context is cancelled. The audit file may
// not exist yet; it is picked up on creation. Existing content is
// skipped so only new traffic is processed.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.transactions)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: the audit file itself may rotate away.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if info, err := os.Stat(w.path); err == nil {
		w.offset = info.Size()
	}
	log.Printf("Tailing audit log %s from offset %d", w.path, w.offset)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.drain(ctx); err != nil {
				log.Printf("Failed to read audit log: %v", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("File watcher error: %v", err)
		}
	}
}

// drain reads everything appended since the last offset and emits any
// transactions completed by it.
func (w *Watcher) drain(ctx context.Context) error {
	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	// Truncation or rotation: start over.
	if info.Size() < w.offset {
		log.Printf("Audit log truncated, restarting from beginning")
		w.offset = 0
		w.pending.Reset()
	}

	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	w.offset += int64(len(data))
	w.pending.Write(data)

	w.emitComplete(ctx)
	return nil
}

func (w *Watcher) emitComplete(ctx context.Context) {
	buf := w.pending.String()
	for {
		loc := terminatorRe.FindStringIndex(buf)
		if loc == nil {
			break
		}
		end := loc[1]
		// Include the trailing newline when present.
		if end < len(buf) && buf[end] == '\n' {
			end++
		}
		tx := buf[:end]
		buf = buf[end:]

		select {
		case w.transactions <- tx:
		case <-ctx.Done():
			return
		}
	}
	w.pending.Reset()
	w.pending.WriteString(buf)
}
