package media

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// segmentSource watches a directory an external encoder writes segments
// into. A segment is complete once the next one is created; the last one
// completes on stop.
type segmentSource struct {
	dir     string
	watcher *fsnotify.Watcher
	begin   time.Time
	ready   []string
	pending string
	seen    map[string]bool
}

func openSegments(dir string) (*segmentSource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	s := &segmentSource{
		dir:     dir,
		watcher: watcher,
		begin:   time.Now(),
		seen:    make(map[string]bool),
	}

	existing, err := listSegments(dir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	for _, name := range existing {
		s.add(name)
	}
	return s, nil
}

func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isSegment(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func isSegment(name string) bool {
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, ".tmp")
}

func (s *segmentSource) add(path string) {
	if s.seen[path] {
		return
	}
	s.seen[path] = true
	if s.pending != "" {
		s.ready = append(s.ready, s.pending)
	}
	s.pending = path
}

func (s *segmentSource) Header() []byte { return nil }

func (s *segmentSource) Next(stop <-chan struct{}) ([]byte, time.Duration, error) {
	for len(s.ready) == 0 {
		select {
		case <-stop:
			return nil, 0, errSourceStopped

		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil, 0, errSourceStopped
			}
			if !event.Has(fsnotify.Create) || !isSegment(filepath.Base(event.Name)) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			s.add(event.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil, 0, errSourceStopped
			}
			log.Printf("[media] segment watcher error: %v", err)
		}
	}

	path := s.ready[0]
	s.ready = s.ready[1:]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read segment: %w", err)
	}
	return data, time.Since(s.begin), nil
}

// Drain returns the segments still held when recording stops.
func (s *segmentSource) Drain() []byte {
	paths := append(s.ready, s.pending)
	s.ready = nil
	s.pending = ""

	var out []byte
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			log.Printf("[media] read segment %s: %v", p, err)
			continue
		}
		out = append(out, data...)
	}
	return out
}

func (s *segmentSource) Close() error {
	return s.watcher.Close()
}

// segmentMimeType guesses the container from the segment file names.
func segmentMimeType(dir string) string {
	names, err := listSegments(dir)
	if err == nil {
		for _, n := range names {
			switch strings.ToLower(filepath.Ext(n)) {
			case ".mp4", ".m4s":
				return "video/mp4"
			case ".ivf":
				return "video/x-ivf"
			case ".ogg", ".opus":
				return "audio/ogg;codecs=opus"
			}
		}
	}
	return "video/webm"
}
