//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package flat

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import (
	"os"

	"golang.org/x/sys/unix"
)

// NextData reports the next allocated range starting at or after cursor,
// using the host's SEEK_DATA/SEEK_HOLE sparse-file query primitives when the
// backend is file-backed. A non-file-backed device (or one that rejects
// SEEK_DATA, e.g. a filesystem without hole-punch support) reports its
// entire remaining capacity as one data range, matching flat.c's fallback.
//
// Grounded on FlatNextData in flat.c and the SEEK_DATA/SEEK_HOLE usage
// pattern in gVisor's host file-offset handling.
func (b *Backend) NextData(cursor int64) (pos int64, end int64, err error) {
	if cursor >= b.capacity {
		return 0, 0, errEndOfData
	}

	f, ok := underlyingFile(b.dev)
	if !ok {
		return cursor, b.capacity, nil
	}

	dataOff, serr := unix.Seek(int(f.Fd()), cursor, unix.SEEK_DATA)
	if serr != nil {
		if serr == unix.ENXIO {
			return 0, 0, errEndOfData
		}
		return cursor, b.capacity, nil
	}
	if dataOff >= b.capacity {
		return 0, 0, errEndOfData
	}

	holeOff, serr := unix.Seek(int(f.Fd()), dataOff, unix.SEEK_HOLE)
	if serr != nil {
		holeOff = b.capacity
	}
	return dataOff, holeOff, nil
}

func underlyingFile(dev interface{}) (*os.File, bool) {
	fd, ok := dev.(fileDevice)
	if !ok {
		return nil, false
	}
	return fd.File, true
}
