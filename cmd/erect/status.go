package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/distr1/erect/internal/core"
)

// isTerminal reports whether stdout is a terminal, the same
// IoctlGetTermios probe the teacher's batch scheduler uses to decide
// whether a live, overwritten status line makes sense at all — piped or
// redirected output gets none of this.
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

// statusPrinter periodically overwrites a single status line with a count
// of tasks in each lifecycle state, the single-line counterpart of the
// teacher's per-task status array (refreshStatus/updateStatus in
// internal/batch), simplified because erect tracks state per task via
// core.Task.Events rather than via scheduler callbacks.
type statusPrinter struct {
	tasks []*core.Task

	mu      sync.Mutex
	lastLen int
}

func newStatusPrinter(tasks []*core.Task) *statusPrinter {
	return &statusPrinter{tasks: tasks}
}

// run prints a status line every 200ms until stop is closed. It is a
// no-op when stdout is not a terminal, matching isTerminal's guard in the
// teacher's scheduler.
func (p *statusPrinter) run(stop <-chan struct{}) {
	if !isTerminal {
		return
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			p.clear()
			return
		case <-ticker.C:
			p.refresh()
		}
	}
}

func (p *statusPrinter) refresh() {
	line := p.line()
	p.mu.Lock()
	defer p.mu.Unlock()
	pad := p.lastLen - len(line)
	if pad < 0 {
		pad = 0
	}
	fmt.Printf("\r%s%*s", line, pad, "")
	p.lastLen = len(line)
}

func (p *statusPrinter) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastLen == 0 {
		return
	}
	fmt.Printf("\r%*s\r", p.lastLen, "")
	p.lastLen = 0
}

func (p *statusPrinter) line() string {
	var running, suspended, done int
	for _, t := range p.tasks {
		evs := t.Events()
		if len(evs) == 0 {
			continue
		}
		switch evs[len(evs)-1].State {
		case core.StateRunning:
			running++
		case core.StateSuspended:
			suspended++
		case core.StateDone:
			done++
		}
	}
	return fmt.Sprintf("erect: %d running, %d suspended, %d/%d done", running, suspended, done, len(p.tasks))
}
