// Package flat implements the flat (raw) disk backend: a trivial positional
// wrapper over a host file, with host-sparse-file-aware allocated-range
// enumeration. It is generalized to work over any block.Device, not just
// a concrete file, so a remote block-store client satisfying block.Device
// can stand in for the host file role.
package flat

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import (
	"os"

	"github.com/sparsedisk/vmdk/pkg/block"
	"github.com/sparsedisk/vmdk/pkg/vmdk"
)

// errEndOfData is the enumeration terminator NextData returns once no
// further allocated range exists, shared with the sparse reader so callers
// (the copy driver in particular) can check for it with a single
// errors.Is(err, vmdk.ErrEndOfData) regardless of which source they're
// driving.
var errEndOfData = vmdk.ErrEndOfData

// Backend is a flat extent: capacity equals the backing store's size, reads
// and writes are direct positional I/O, and NextData defers to hole
// detection (§4.G). It implements both vmdk.Reader's and vmdk.Writer's
// capability sets, so it can sit on either side of the copy driver.
//
// Grounded on Flat_Open/Flat_Create/FlatPread/FlatPwrite/FlatNextData in
// flat.c.
type Backend struct {
	dev      block.Device
	capacity int64
	closed   bool
}

// fileDevice adapts *os.File to block.Device by adding Size via Stat.
type fileDevice struct {
	*os.File
}

func (f fileDevice) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Open opens an existing flat extent for reading and writing, with capacity
// equal to the file's current size.
func Open(path string) (*Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return OpenDevice(fileDevice{f})
}

// OpenDevice wraps an already-open block.Device as a flat backend, capacity
// equal to its current size. Used to back a flat extent with a transport
// other than a local file (e.g. a remote block store).
func OpenDevice(dev block.Device) (*Backend, error) {
	size, err := dev.Size()
	if err != nil {
		dev.Close()
		return nil, err
	}
	return &Backend{dev: dev, capacity: size}, nil
}

// Create creates (truncating if necessary) a flat extent of the given
// capacity in bytes.
func Create(path string, capacity int64) (*Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(capacity); err != nil {
		f.Close()
		return nil, err
	}
	return &Backend{dev: fileDevice{f}, capacity: capacity}, nil
}

// Capacity returns the extent's size in bytes.
func (b *Backend) Capacity() int64 {
	return b.capacity
}

// ReadAt services a positional read, delegating directly to the backing
// device.
func (b *Backend) ReadAt(p []byte, pos int64) (int, error) {
	return b.dev.ReadAt(p, pos)
}

// WriteAt services a positional write, delegating directly to the backing
// device. No zero-detection is performed on write; a flat extent is not
// sparse-aware on its own, only on enumeration via NextData.
func (b *Backend) WriteAt(p []byte, pos int64) (int, error) {
	return b.dev.WriteAt(p, pos)
}

// Close flushes and releases the backing device.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.dev.Close()
}

// Abort releases the backing device without any special cleanup; a flat
// extent has no finalize step to skip.
func (b *Backend) Abort() error {
	return b.Close()
}
