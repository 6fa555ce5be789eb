package cmdutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunWithInputEchoesStdin(t *testing.T) {
	if !Exists("cat") {
		t.Skip("cat not available")
	}
	out, err := RunWithInput(context.Background(), "cat", nil, "hello", "", 5*time.Second)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRunWithInputTimeout(t *testing.T) {
	if !Exists("sleep") {
		t.Skip("sleep not available")
	}
	_, err := RunWithInput(context.Background(), "sleep", []string{"5"}, "", "", 50*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestRunWithInputCanceledContext(t *testing.T) {
	if !Exists("sleep") {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := RunWithInput(ctx, "sleep", []string{"5"}, "", "", 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation must survive the command error, got %v", err)
	}
	if errors.Is(err, ErrTimedOut) {
		t.Fatalf("cancellation must not report a timeout: %v", err)
	}
}
