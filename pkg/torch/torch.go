// Package torch toggles a flashlight exposed as a Linux LED class device.
package torch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/zoobzio/gesture"
)

// DefaultDir is the LED class node used by New when dir is empty.
const DefaultDir = "/sys/class/leds/torch-light0"

// Torch drives the brightness attribute of an LED class node.
type Torch struct {
	dir string
	mu  sync.Mutex
}

// New creates a Torch for the LED class directory dir.
func New(dir string) *Torch {
	if dir == "" {
		dir = DefaultDir
	}
	return &Torch{dir: dir}
}

// Action toggles the torch. It implements gesture.Action.
func (t *Torch) Action(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	on, err := t.on()
	if err != nil {
		return err
	}
	return t.set(!on)
}

// On reports whether the torch is lit.
func (t *Torch) On() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on()
}

// Set lights the torch at full brightness or turns it off.
func (t *Torch) Set(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set(on)
}

func (t *Torch) on() (bool, error) {
	b, err := t.read("brightness")
	if err != nil {
		return false, err
	}
	return b > 0, nil
}

func (t *Torch) set(on bool) error {
	level := 0
	if on {
		// Nodes without max_brightness accept 1 as on.
		level = 1
		if peak, err := t.read("max_brightness"); err == nil && peak > 0 {
			level = peak
		}
	}
	path := filepath.Join(t.dir, "brightness")
	if err := os.WriteFile(path, []byte(strconv.Itoa(level)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (t *Torch) read(name string) (int, error) {
	path := filepath.Join(t.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return v, nil
}

var _ gesture.Action = (*Torch)(nil)
