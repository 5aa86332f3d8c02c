package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors for the taxonomy described by the on-disk format's error
// handling design. Callers distinguish failure categories with errors.Is,
// e.g. errors.Is(err, vmdk.ErrCorruption).
//
// Io and OutOfMemory are not separate sentinels here: short reads/writes
// propagate the underlying *os.PathError or io.ErrShortWrite/io.ErrShortBuffer
// unwrapped, and Go reports allocation failure as a panic rather than a
// recoverable error, so there is no Go-side equivalent to the C calloc
// failure path.
var (
	// ErrInvalidFormat covers bad magic, unknown incompatible flag bits,
	// disallowed grain/table geometry, an invalid newline detector, or a
	// temporary-magic ("kdmv") file presented to the reader.
	ErrInvalidFormat = errors.New("vmdk: invalid format")

	// ErrCorruption covers an embedded-LBA mismatch, an inflate failure, an
	// inflated grain shorter than its declared length, or an oversize
	// compressed payload.
	ErrCorruption = errors.New("vmdk: corruption")

	// ErrUnsupported covers a read-modify-write attempt against an
	// already-emitted grain and a non-power-of-two grain size or table size.
	ErrUnsupported = errors.New("vmdk: unsupported")

	// ErrEndOfData is returned by NextData once no further allocated ranges
	// remain; it is an enumeration terminator, not a failure.
	ErrEndOfData = errors.New("vmdk: end of data")
)

// invalidFormatf wraps ErrInvalidFormat with context while keeping it
// discoverable via errors.Is.
func invalidFormatf(format string, args ...interface{}) error {
	return pkgerrors.Wrapf(ErrInvalidFormat, format, args...)
}

func corruptionf(format string, args ...interface{}) error {
	return pkgerrors.Wrapf(ErrCorruption, format, args...)
}

func unsupportedf(format string, args ...interface{}) error {
	return pkgerrors.Wrapf(ErrUnsupported, format, args...)
}
