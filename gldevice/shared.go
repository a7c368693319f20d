package gldevice

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/keyedmutex"
)

// Share is the registry of textures shared between the devices of one GL
// share group. Handles are only meaningful within the process.
type Share struct {
	mu      sync.Mutex
	next    graphics.SharedHandle
	entries map[graphics.SharedHandle]*sharedEntry
}

func NewShare() *Share {
	return &Share{entries: make(map[graphics.SharedHandle]*sharedEntry)}
}

type sharedEntry struct {
	id     uint32
	size   image.Point
	format graphics.Format
	mutex  *keyedmutex.Mutex

	mu sync.Mutex
	// sync is inserted by the last releasing context; the next acquirer makes
	// its own command stream wait on it.
	sync uintptr
}

// SharedTexture is one context's view of a shared GL texture.
type SharedTexture struct {
	*Texture
	entry *sharedEntry
	// set on the creating device's texture only
	share  *Share
	handle graphics.SharedHandle
}

// Release deletes this view. Releasing the creator's texture also removes
// its handle, so no new views can be opened.
func (s *SharedTexture) Release() {
	if s.share != nil {
		s.share.Forget(s.handle)
		s.entry.mu.Lock()
		if s.entry.sync != 0 {
			gl.DeleteSync(s.entry.sync)
			s.entry.sync = 0
		}
		s.entry.mu.Unlock()
	}
	s.Texture.Release()
}

func (s *SharedTexture) AcquireSync(ctx context.Context, key uint64, timeout time.Duration) error {
	if err := s.entry.mutex.Acquire(ctx, key, timeout); err != nil {
		return err
	}
	s.entry.mu.Lock()
	last := s.entry.sync
	s.entry.mu.Unlock()
	if last != 0 {
		gl.WaitSync(last, 0, gl.TIMEOUT_IGNORED)
	}
	s.reattach()
	return nil
}

func (s *SharedTexture) ReleaseSync(key uint64) error {
	fence := gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
	gl.Flush()
	s.entry.mu.Lock()
	old := s.entry.sync
	s.entry.sync = fence
	s.entry.mu.Unlock()
	if old != 0 {
		gl.DeleteSync(old)
	}
	return s.entry.mutex.Release(key)
}

func (d *Device) CreateSharedTexture(size image.Point, format graphics.Format) (graphics.SharedTexture, graphics.SharedHandle, error) {
	if d.share == nil {
		return nil, 0, fmt.Errorf("shared texture: %w", graphics.ErrUnsupported)
	}
	t, err := d.newTexture(size, format)
	if err != nil {
		return nil, 0, err
	}
	entry := &sharedEntry{id: t.id, size: size, format: format, mutex: keyedmutex.New()}

	d.share.mu.Lock()
	d.share.next++
	h := d.share.next
	d.share.entries[h] = entry
	d.share.mu.Unlock()
	return &SharedTexture{Texture: t, entry: entry, share: d.share, handle: h}, h, nil
}

func (d *Device) OpenSharedTexture(h graphics.SharedHandle) (graphics.SharedTexture, error) {
	if d.share == nil {
		return nil, fmt.Errorf("shared texture: %w", graphics.ErrUnsupported)
	}
	d.share.mu.Lock()
	entry, ok := d.share.entries[h]
	d.share.mu.Unlock()
	if !ok {
		return nil, graphics.ErrBadHandle
	}
	t := &Texture{dev: d, id: entry.id, size: entry.size, format: entry.format}
	if err := d.attach(t); err != nil {
		t.Release()
		return nil, err
	}
	return &SharedTexture{Texture: t, entry: entry}, nil
}

// Forget drops a handle from the registry. Views already opened stay valid.
func (s *Share) Forget(h graphics.SharedHandle) {
	s.mu.Lock()
	delete(s.entries, h)
	s.mu.Unlock()
}
