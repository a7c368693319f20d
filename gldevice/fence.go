package gldevice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/richinsley/goscaler/graphics"
)

// fenceSlice bounds a single glClientWaitSync so context cancellation is
// observed between waits.
const fenceSlice = time.Millisecond

// Fence emulates a monotonic timeline with one GL sync object per signaled
// value.
type Fence struct {
	dev       *Device
	signaled  uint64
	completed uint64
	pending   []pendingSync
}

type pendingSync struct {
	value uint64
	sync  uintptr
}

func (d *Device) CreateFence(initial uint64) (graphics.Fence, error) {
	return &Fence{dev: d, signaled: initial, completed: initial}, nil
}

func (f *Fence) Signal(value uint64) error {
	if value <= f.signaled {
		return fmt.Errorf("fence value %d not above %d", value, f.signaled)
	}
	s := gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
	if s == 0 {
		return fmt.Errorf("glFenceSync: %w", graphics.ErrDeviceLost)
	}
	f.signaled = value
	f.pending = append(f.pending, pendingSync{value: value, sync: s})
	return nil
}

// poll retires the oldest pending sync if it completes within timeout.
func (f *Fence) poll(timeout time.Duration) (bool, error) {
	p := f.pending[0]
	switch gl.ClientWaitSync(p.sync, gl.SYNC_FLUSH_COMMANDS_BIT, uint64(timeout.Nanoseconds())) {
	case gl.ALREADY_SIGNALED, gl.CONDITION_SATISFIED:
	case gl.TIMEOUT_EXPIRED:
		return false, nil
	default:
		return false, fmt.Errorf("glClientWaitSync: %w", graphics.ErrDeviceLost)
	}
	gl.DeleteSync(p.sync)
	f.pending = f.pending[1:]
	f.completed = p.value
	return true, nil
}

// Wait blocks until value has completed, checking ctx between 1ms waits.
func (f *Fence) Wait(ctx context.Context, value uint64) error {
	if value > f.signaled {
		return errors.New("wait on a fence value that was never signaled")
	}
	for f.completed < value {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := f.poll(fenceSlice); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fence) Completed() uint64 {
	for len(f.pending) > 0 {
		done, err := f.poll(0)
		if err != nil || !done {
			break
		}
	}
	return f.completed
}

func (f *Fence) Release() {
	for _, p := range f.pending {
		gl.DeleteSync(p.sync)
	}
	f.pending = nil
}
