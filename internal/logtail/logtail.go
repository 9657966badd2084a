// Package logtail reads and follows the append-only service logs under
// .workbench/logs.
package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const chunkSize = 32 << 10

// Tail returns up to the last n lines of path.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()

	var buf []byte
	offset := size
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(chunkSize)
		if step > offset {
			step = offset
		}
		offset -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	lines := splitLines(bytes.TrimSuffix(buf, []byte{'\n'}))
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:] // first line may be partial
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	parts := bytes.Split(b, []byte{'\n'})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(bytes.TrimSuffix(p, []byte{'\r'}))
	}
	return out
}

// Source is one log to follow.
type Source struct {
	Name string
	Path string
}

type tailer struct {
	src     Source
	offset  int64
	partial []byte
}

// drain emits every complete line written since the last call. A file
// that shrank was truncated and is re-read from the start.
func (t *tailer) drain(emit func(name, line string)) error {
	f, err := os.Open(t.src.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}
	if fi.Size() == t.offset {
		return nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	t.offset += int64(len(data))

	data = append(t.partial, data...)
	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		t.partial = data
		return nil
	}
	for _, line := range splitLines(data[:last]) {
		emit(t.src.Name, line)
	}
	t.partial = append([]byte(nil), data[last+1:]...)
	return nil
}

// Follow streams lines appended to the sources after the call starts until
// ctx is done. Files that do not exist yet are picked up once created.
func Follow(ctx context.Context, sources []Source, emit func(name, line string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	byPath := make(map[string]*tailer, len(sources))
	watched := make(map[string]bool)
	for _, src := range sources {
		abs, err := filepath.Abs(src.Path)
		if err != nil {
			return err
		}
		t := &tailer{src: Source{Name: src.Name, Path: abs}}
		if fi, err := os.Stat(abs); err == nil {
			t.offset = fi.Size()
		}
		byPath[abs] = t

		dir := filepath.Dir(abs)
		if watched[dir] {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watched[dir] = true
	}

	// Some filesystems drop events; a slow poll catches anything missed.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			t, tracked := byPath[ev.Name]
			if !tracked || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				t.offset, t.partial = 0, nil
			}
			if err := t.drain(emit); err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch logs: %w", err)
		case <-ticker.C:
			for _, t := range byPath {
				if err := t.drain(emit); err != nil {
					return err
				}
			}
		}
	}
}
