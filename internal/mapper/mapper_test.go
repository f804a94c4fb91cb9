package mapper

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

func dial(t *testing.T, m *Mapper) net.Conn {
	t.Helper()
	m.mu.Lock()
	port := m.port
	m.mu.Unlock()
	c, err := net.Dial("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStandaloneProtocolBasics(t *testing.T) {
	m := NewStandalone("build/cmi")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c := dial(t, m)
	r := bufio.NewReader(c)

	send := func(line string) string {
		if _, err := c.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		reply, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return strings.TrimRight(reply, "\n")
	}

	if got := send("HELLO 1 gcc v1"); got != "HELLO 1 erect-modmap" {
		t.Errorf("HELLO = %q", got)
	}
	if got := send("MODULE-REPO"); got != "PATHNAME build/cmi" {
		t.Errorf("MODULE-REPO = %q", got)
	}
	if got := send("MODULE-EXPORT foo"); got != "PATHNAME foo.gcm" {
		t.Errorf("MODULE-EXPORT = %q", got)
	}
	if got := send("MODULE-COMPILED foo"); got != "OK" {
		t.Errorf("MODULE-COMPILED = %q", got)
	}
	if got := send("MODULE-IMPORT foo"); got != "PATHNAME foo.gcm" {
		t.Errorf("MODULE-IMPORT (already provided) = %q", got)
	}
	if got := send("INCLUDE-TRANSLATE /usr/include/foo.h"); got != "BOOL FALSE" {
		t.Errorf("INCLUDE-TRANSLATE = %q", got)
	}
	if got := send("NOT-A-COMMAND"); got != "ERROR" {
		t.Errorf("unknown command = %q, want ERROR", got)
	}
}

func TestStandaloneModuleImportBlocksUntilCompiled(t *testing.T) {
	m := NewStandalone("build/cmi")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	importer := dial(t, m)
	importerR := bufio.NewReader(importer)
	importer.Write([]byte("MODULE-IMPORT bar\n"))
	time.Sleep(30 * time.Millisecond)

	compiler := dial(t, m)
	compilerR := bufio.NewReader(compiler)
	compiler.Write([]byte("MODULE-COMPILED bar\n"))
	if reply, err := compilerR.ReadString('\n'); err != nil || strings.TrimRight(reply, "\n") != "OK" {
		t.Fatalf("MODULE-COMPILED reply = %q, %v", reply, err)
	}

	done := make(chan string, 1)
	go func() {
		reply, err := importerR.ReadString('\n')
		if err != nil {
			done <- ""
			return
		}
		done <- strings.TrimRight(reply, "\n")
	}()

	select {
	case reply := <-done:
		if reply != "PATHNAME bar.gcm" {
			t.Errorf("MODULE-IMPORT reply = %q, want PATHNAME bar.gcm", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("MODULE-IMPORT never unblocked after MODULE-COMPILED")
	}
}

func TestBatchedCommandsRespondTogether(t *testing.T) {
	m := NewStandalone("build/cmi")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c := dial(t, m)
	r := bufio.NewReader(c)

	c.Write([]byte("MODULE-REPO ;\nMODULE-EXPORT foo\n"))

	first, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if got := strings.TrimRight(first, "\n"); got != "PATHNAME build/cmi ;" {
		t.Errorf("first batched reply = %q, want %q", got, "PATHNAME build/cmi ;")
	}

	second, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if got := strings.TrimRight(second, "\n"); got != "PATHNAME foo.gcm" {
		t.Errorf("second batched reply = %q, want %q", got, "PATHNAME foo.gcm")
	}
}

func TestGCCArgStandaloneOmitsIdent(t *testing.T) {
	m := NewStandalone("build/cmi")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	arg := m.GCCArg("should-be-ignored")
	if strings.Contains(arg, "?") {
		t.Errorf("GCCArg on standalone mapper = %q, want no ident suffix", arg)
	}
	if !strings.HasPrefix(arg, "-fmodule-mapper=localhost:") {
		t.Errorf("GCCArg = %q, want -fmodule-mapper=localhost: prefix", arg)
	}
}
