package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// DirGrabber replays the images of a directory in name order. Local capture
// rigs drop frames there; tests use it as a deterministic camera.
type DirGrabber struct {
	Dir  string
	Loop bool // start over after the last image instead of failing

	mu    sync.Mutex
	files []string
	next  int
}

func (g *DirGrabber) Name() string { return "dir:" + g.Dir }

// IsImagePath reports whether the file extension is one of the decodable formats.
func IsImagePath(path string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
}

// ListImages returns the image files directly inside dir in name order.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading image directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsImagePath(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func (g *DirGrabber) Open(_ context.Context) error {
	files, err := ListImages(g.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images in %s", g.Dir)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.files = files
	if g.next >= len(files) && g.Loop {
		g.next = 0
	}
	return nil
}

// ErrEndOfStream is returned by a non-looping DirGrabber after its last image.
var ErrEndOfStream = errors.New("end of stream")

func (g *DirGrabber) Grab(_ context.Context) ([]byte, error) {
	g.mu.Lock()
	if len(g.files) == 0 {
		g.mu.Unlock()
		return nil, errors.New("directory not open")
	}
	if g.next >= len(g.files) {
		if !g.Loop {
			g.mu.Unlock()
			return nil, ErrEndOfStream
		}
		g.next = 0
	}
	path := g.files[g.next]
	g.next++
	g.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	return data, nil
}

func (g *DirGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files = nil
	return nil
}
