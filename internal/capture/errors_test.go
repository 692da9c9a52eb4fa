package capture

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"full", newError(ErrDequeue, "dqbuf", "/dev/video0", syscall.EIO), "[DEQUEUE] dqbuf /dev/video0: input/output error"},
		{"no device", newError(ErrInvalidState, "start", "", errors.New("already streaming")), "[INVALID_STATE] start: already streaming"},
		{"no cause", newError(ErrIO, "close", "/dev/video1", nil), "[IO] close /dev/video1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	base := newError(ErrEnqueue, "qbuf", "/dev/video0", syscall.EIO)
	wrapped := fmt.Errorf("restart: %w", base)
	joined := errors.Join(errors.New("other"), wrapped)

	if !IsCode(joined, ErrEnqueue) {
		t.Error("IsCode() did not find the code through wrapping")
	}
	if IsCode(joined, ErrDequeue) {
		t.Error("IsCode() matched the wrong code")
	}
	if CodeOf(wrapped) != ErrEnqueue || CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf() mismatch")
	}
	if !errors.Is(wrapped, syscall.EIO) {
		t.Error("cause not reachable through Unwrap")
	}
}
