// Package block describes the abstract backing-store capability that a
// flat-disk reader/writer needs from its file handle: seek, read, pread,
// write, pwrite, get_size, and close. A *os.File satisfies it directly; a
// remote block-store client (grounded on block.h's zbs vtable) can satisfy
// it without pkg/flat knowing anything about the transport.
package block

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import "io"

// Device is the capability set a flat backend needs from its backing store.
// It is a generalization of block.h's hand-rolled C vtable: seek/read/write
// map onto io.Seeker/io.Reader/io.Writer, pread/pwrite onto io.ReaderAt/
// io.WriterAt, and get_size onto Size.
type Device interface {
	io.Seeker
	io.Reader
	io.ReaderAt
	io.Writer
	io.WriterAt
	io.Closer

	// Size reports the current size of the backing store in bytes.
	Size() (int64, error)
}
