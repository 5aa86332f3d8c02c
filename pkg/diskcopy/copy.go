// Package diskcopy walks a source's allocated ranges and streams them into a
// destination, the point where sparseness, streaming order, and failure
// recovery meet.
package diskcopy

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import (
	"errors"
	"io"

	"github.com/sparsedisk/vmdk/pkg/vmdk"
)

// scratchSize is the shared copy buffer size, matching copyData in
// mkdisk.c.
const scratchSize = 65536

// Source is anything the copy driver can read allocated ranges from: the
// sparse reader, the flat backend, or any future backend with the same
// shape.
type Source interface {
	Capacity() int64
	ReadAt(p []byte, pos int64) (int, error)
	NextData(cursor int64) (pos, end int64, err error)
}

// Destination is anything the copy driver can stream allocated ranges into.
type Destination interface {
	WriteAt(p []byte, pos int64) (int, error)
	Close() error
	Abort() error
}

// FastCopier is an optional extension a Destination may implement for a
// destination-driven fast path -- e.g. a multi-threaded DEFLATE pipeline
// that can read directly from src without going through the driver's
// chunked WriteAt loop.
type FastCopier interface {
	CopyDisk(src Source) error
}

// Copy walks src's allocated ranges via NextData and streams each one into
// dst in scratchSize chunks, sharing one scratch buffer across the whole
// operation. On success it closes dst; on any failure it aborts dst and
// returns the error.
//
// Grounded on copyData/copyDisk in mkdisk.c.
func Copy(dst Destination, src Source) error {
	if fc, ok := dst.(FastCopier); ok {
		if err := fc.CopyDisk(src); err != nil {
			dst.Abort()
			return err
		}
		return dst.Close()
	}

	buf := make([]byte, scratchSize)
	cursor := int64(0)
	for {
		pos, end, err := src.NextData(cursor)
		if err != nil {
			if errors.Is(err, vmdk.ErrEndOfData) {
				break
			}
			dst.Abort()
			return err
		}
		if err := copyRange(dst, src, buf, pos, end); err != nil {
			dst.Abort()
			return err
		}
		cursor = end
	}
	return dst.Close()
}

// copyRange copies src[pos:end) into dst at the same offsets, in scratchSize
// chunks, reusing buf.
func copyRange(dst Destination, src Source, buf []byte, pos, end int64) error {
	for pos < end {
		chunk := int64(len(buf))
		if remain := end - pos; chunk > remain {
			chunk = remain
		}

		n, err := src.ReadAt(buf[:chunk], pos)
		if err != nil && err != io.EOF {
			return err
		}
		if int64(n) != chunk {
			return io.ErrShortBuffer
		}

		if _, err := dst.WriteAt(buf[:chunk], pos); err != nil {
			return err
		}
		pos += chunk
	}
	return nil
}
