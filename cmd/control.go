package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/stream"
)

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// keyControl is the terminal's pause button: pressing Enter toggles pause
// while an update stream is shown.
type keyControl struct {
	in  io.Reader
	out io.Writer

	once sync.Once
	mu   sync.Mutex
	ctrl install.Control
}

func newKeyControl(in io.Reader, out io.Writer) *keyControl {
	return &keyControl{in: in, out: out}
}

func (k *keyControl) ShowPause(c install.Control) {
	k.mu.Lock()
	k.ctrl = c
	k.mu.Unlock()
	fmt.Fprintln(k.out, "Press Enter to pause or resume.")
	k.once.Do(func() { go k.readKeys() })
}

func (k *keyControl) HidePause() {
	k.mu.Lock()
	k.ctrl = nil
	k.mu.Unlock()
}

func (k *keyControl) current() install.Control {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ctrl
}

func (k *keyControl) readKeys() {
	sc := bufio.NewScanner(k.in)
	for sc.Scan() {
		c := k.current()
		if c == nil {
			continue
		}
		if err := c.Toggle(); err != nil && !errors.Is(err, stream.ErrNotActive) {
			logging.Warnf("toggling pause: %v", err)
		}
	}
}
