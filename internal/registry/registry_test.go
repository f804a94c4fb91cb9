package registry

import (
	"context"
	"testing"
	"time"
)

func TestModuleRequiredUnblocksOnProvide(t *testing.T) {
	r := NewModuleRegistry()

	done := make(chan error, 1)
	go func() {
		done <- r.ModuleRequired(context.Background(), "std")
	}()

	select {
	case err := <-done:
		t.Fatalf("ModuleRequired returned before ModuleProvided: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	r.ModuleProvided("std")

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ModuleRequired = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ModuleRequired did not unblock after ModuleProvided")
	}
}

func TestModuleRequiredAfterProvideReturnsImmediately(t *testing.T) {
	r := NewModuleRegistry()
	r.ModuleProvided("std")

	if err := r.ModuleRequired(context.Background(), "std"); err != nil {
		t.Errorf("ModuleRequired = %v, want nil", err)
	}
}

func TestModuleRequiredRespectsContextCancellation(t *testing.T) {
	r := NewModuleRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.ModuleRequired(ctx, "never"); err == nil {
		t.Errorf("ModuleRequired with cancelled context = nil, want error")
	}
}

func TestModuleExists(t *testing.T) {
	r := NewModuleRegistry()
	if r.ModuleExists("m") {
		t.Errorf("ModuleExists(m) = true before provide, want false")
	}
	r.ModuleProvided("m")
	if !r.ModuleExists("m") {
		t.Errorf("ModuleExists(m) = false after provide, want true")
	}
}

func TestModuleProvidedTwiceIsHarmless(t *testing.T) {
	r := NewModuleRegistry()
	r.ModuleProvided("m")
	r.ModuleProvided("m")
	if err := r.ModuleRequired(context.Background(), "m"); err != nil {
		t.Errorf("ModuleRequired = %v, want nil", err)
	}
}
