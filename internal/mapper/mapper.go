// Package mapper implements the GCC module-mapper protocol: the
// line-oriented TCP service a compiler invoked with -fmodule-mapper talks to
// in order to locate and coordinate C++20 module interface files. It is
// grounded on original_source/erect/lib/gcc/module_mapper.py (the
// task-attributing variant wired into a build) and
// original_source/erect/util/module_mapper.py (the non-attributing
// standalone variant, kept here as NewStandalone per the attribute flag
// below rather than as a second copy of the protocol).
package mapper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/core"
	"github.com/distr1/erect/internal/registry"
)

// ModuleTracker lets a task Body (internal/gcctask.Compile) record which
// module names it imported or produced, as reported by the compiler over
// this connection. Optional: a mapper with no task attribution (see
// NewStandalone) never looks for it.
type ModuleTracker interface {
	ModuleRequired(name string)
	ModuleGenerated(name string)
}

// Mapper is one module-mapper TCP server for the duration of a build. A
// build normally runs exactly one Mapper, shared by every compile and
// header-unit task so that a module produced by one compilation is visible
// to another's MODULE-IMPORT.
type Mapper struct {
	ctx       *core.Context // nil for a non-attributing standalone mapper
	cmiDir    string
	registry  *registry.ModuleRegistry
	attribute bool

	mu   sync.Mutex
	ln   net.Listener
	port int
}

// New returns a Mapper that attributes each connection to the core.Task
// whose TaskID matches the ident a compile task's gcctask.Env passes via
// GCCArg, so that MODULE-IMPORT can suspend that specific task (spec
// §4.7.1) rather than the build as a whole.
func New(ctx *core.Context, cmiDir string) *Mapper {
	return &Mapper{ctx: ctx, cmiDir: cmiDir, registry: registry.NewModuleRegistry(), attribute: true}
}

// NewStandalone returns a Mapper usable outside of a Context-driven build —
// e.g. as a bare `erect modmap` helper process — that answers the protocol
// without attributing connections to any task or suspending anything.
func NewStandalone(cmiDir string) *Mapper {
	return &Mapper{cmiDir: cmiDir, registry: registry.NewModuleRegistry(), attribute: false}
}

// Start binds the mapper's listening socket and begins serving connections
// in the background. It returns once the socket is bound, matching the
// Python original's awaited ModuleMapper.start(); register it with
// core.Context.StartAsync so the scheduler waits for the bind before
// driving any task that might reference GCCArg.
func (m *Mapper) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", "[::1]:0")
	if err != nil {
		return xerrors.Errorf("mapper: listen: %w", err)
	}
	m.mu.Lock()
	m.ln = ln
	m.port = ln.Addr().(*net.TCPAddr).Port
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go m.acceptLoop(ctx, ln)
	return nil
}

func (m *Mapper) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("mapper: accept: %v", err)
			return
		}
		go m.handleConn(ctx, c)
	}
}

// GCCArg returns the -fmodule-mapper flag value a compile invocation should
// pass. ident identifies the task for attribution; it is ignored by a
// standalone mapper.
func (m *Mapper) GCCArg(ident string) string {
	m.mu.Lock()
	port := m.port
	m.mu.Unlock()
	if m.attribute {
		return fmt.Sprintf("-fmodule-mapper=localhost:%d?%s", port, ident)
	}
	return fmt.Sprintf("-fmodule-mapper=localhost:%d", port)
}

func (m *Mapper) gcmName(module string) string {
	return strings.ReplaceAll(module, "/", ",") + ".gcm"
}

// GCMPath returns the on-disk path a given module name's compiled interface
// is, or will be, stored at.
func (m *Mapper) GCMPath(module string) string {
	return filepath.Join(m.cmiDir, m.gcmName(module))
}

// Registry returns the module registry backing this mapper, so a task body
// (internal/gcctask.Compile's PreRun/PostRun) can await or report module
// names directly rather than only through a live connection.
func (m *Mapper) Registry() *registry.ModuleRegistry {
	return m.registry
}

type connHandler struct {
	mapper *Mapper
	task   *core.Task
}

func (m *Mapper) handleConn(ctx context.Context, c net.Conn) {
	defer c.Close()
	h := &connHandler{mapper: m}
	if err := h.run(ctx, c); err != nil && ctx.Err() == nil {
		log.Printf("mapper: connection: %v", err)
	}
}

// run implements the batching protocol: commands may arrive pipelined, each
// line but the last of a batch ending in a literal ";" token. Responses to a
// batch are likewise joined with " ;" and written in a single Write, mirroring
// the original's command_queue draining.
func (h *connHandler) run(ctx context.Context, c net.Conn) error {
	scanner := bufio.NewScanner(c)
	var queue [][]string

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[len(fields)-1] == ";" {
			queue = append(queue, fields[:len(fields)-1])
			continue
		}
		queue = append(queue, fields)

		var ws writerseeker.WriterSeeker
		for i, cmd := range queue {
			resp := h.handle(ctx, cmd)
			if i < len(queue)-1 {
				resp += " ;"
			}
			if _, err := ws.Write([]byte(resp + "\n")); err != nil {
				return xerrors.Errorf("mapper: buffer response: %w", err)
			}
		}
		queue = queue[:0]

		r, err := ws.Reader()
		if err != nil {
			return xerrors.Errorf("mapper: read buffered response: %w", err)
		}
		batch, err := io.ReadAll(r)
		if err != nil {
			return xerrors.Errorf("mapper: read buffered response: %w", err)
		}
		if _, err := c.Write(batch); err != nil {
			return xerrors.Errorf("mapper: write response: %w", err)
		}
	}
	return scanner.Err()
}

func (h *connHandler) handle(ctx context.Context, cmd []string) string {
	if len(cmd) == 0 {
		return "ERROR"
	}

	switch cmd[0] {
	case "HELLO":
		if len(cmd) < 2 || cmd[1] != "1" {
			return "ERROR"
		}
		if h.mapper.attribute && len(cmd) >= 4 {
			ident := cmd[3]
			if t, ok := h.mapper.ctx.TaskByID(core.NewTaskID(strings.Split(ident, ";")...)); ok {
				h.task = t
			}
		}
		return "HELLO 1 erect-modmap"

	case "MODULE-REPO":
		return "PATHNAME " + h.mapper.cmiDir

	case "MODULE-EXPORT":
		if len(cmd) < 2 {
			return "ERROR"
		}
		return "PATHNAME " + h.mapper.gcmName(cmd[1])

	case "MODULE-IMPORT":
		if len(cmd) < 2 {
			return "ERROR"
		}
		module := cmd[1]
		if tr, ok := h.moduleTracker(); ok {
			tr.ModuleRequired(module)
		}
		var err error
		if h.task != nil {
			err = h.task.MarkSuspended(ctx, func(ctx context.Context) error {
				return h.mapper.registry.ModuleRequired(ctx, module)
			})
		} else {
			err = h.mapper.registry.ModuleRequired(ctx, module)
		}
		if err != nil {
			return "ERROR"
		}
		return "PATHNAME " + h.mapper.gcmName(module)

	case "MODULE-COMPILED":
		if len(cmd) != 2 {
			return "ERROR"
		}
		h.mapper.registry.ModuleProvided(cmd[1])
		if tr, ok := h.moduleTracker(); ok {
			tr.ModuleGenerated(cmd[1])
		}
		return "OK"

	case "INCLUDE-TRANSLATE":
		return "BOOL FALSE"

	default:
		return "ERROR"
	}
}

func (h *connHandler) moduleTracker() (ModuleTracker, bool) {
	if h.task == nil {
		return nil, false
	}
	tr, ok := h.task.Body.(ModuleTracker)
	return tr, ok
}
