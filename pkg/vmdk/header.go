package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

// Header is the host-representation of the 512-byte on-disk sparse extent
// header described in vmware_vmdk.h's SparseExtentHeaderOnDisk. Every field
// here is normalized to host byte order by decode and re-serialized to
// little-endian by encode; nothing in this package ever reinterprets the
// on-disk bytes as a native integer, because several of the on-disk fields
// (capacity, grainSize, the two descriptor fields) are not naturally aligned
// for 64-bit access.
type Header struct {
	Version           uint32
	Flags             uint32
	Capacity          uint64 // sectors
	GrainSize         uint64 // sectors
	DescriptorOffset  uint64 // sectors
	DescriptorSize    uint64 // sectors
	NumGTEsPerGT      uint32
	RGDOffset         uint64 // sectors
	GDOffset          uint64 // sectors
	OverHead          uint64 // sectors
	UncleanShutdown   uint8
	CompressAlgorithm uint16
}

// Flag bits, named exactly as in vmware_vmdk.h.
const (
	FlagValidNewlineDetector = 1 << 0
	FlagUseRedundant         = 1 << 1
	FlagMagicGTE             = 1 << 2 // monolithicSparse-only, not part of the normative contract here
	FlagCompressed           = 1 << 16
	FlagEmbeddedLBA          = 1 << 17

	incompatFlagsMask = 0xFFFF0000
)

const (
	sparseMagic                = 0x564d444b // "KDMV"
	sparseMagicTemporaryXOR    = 0x20202020 // XORed onto the magic to spell "kdmv"
	sparseVersionIncompatFlags = 3 // SPARSE_VERSION_INCOMPAT_FLAGS

	// CompressAlgorithm values.
	CompressNone    = 0
	CompressDeflate = 1

	// GDAtEnd is the original format's sentinel meaning "grain directory
	// offset unknown, consult the trailing footer". This codec never
	// produces it (the writer always knows gdOffset before the first grain
	// is written) and a reader that sees it cannot locate a grain directory
	// at all, so it is treated as an invalid-format condition rather than a
	// request to look for a footer -- this codec does not implement the
	// footer-bearing variant (see DESIGN.md's Open Question decisions).
	gdAtEnd = 0xFFFFFFFFFFFFFFFF
)

var newlineDetector = [4]byte{'\n', ' ', '\r', '\n'}

// decodeHeader parses and validates a 512-byte on-disk sparse extent header.
func decodeHeader(b []byte) (*Header, error) {
	if len(b) < SectorSize {
		return nil, invalidFormatf("header: short buffer (%d bytes)", len(b))
	}

	if readUint32LE(b[0:4]) != sparseMagic {
		return nil, invalidFormatf("header: bad magic")
	}

	h := &Header{}
	h.Version = readUint32LE(b[4:8])
	if h.Version > sparseVersionIncompatFlags {
		return nil, invalidFormatf("header: unsupported version %d", h.Version)
	}

	h.Flags = readUint32LE(b[8:12])
	if h.Flags&(incompatFlagsMask&^FlagCompressed&^FlagEmbeddedLBA) != 0 {
		return nil, invalidFormatf("header: unknown incompatible flag bits 0x%08x", h.Flags)
	}

	if h.Flags&FlagValidNewlineDetector != 0 {
		if b[73] != newlineDetector[0] || b[74] != newlineDetector[1] ||
			b[75] != newlineDetector[2] || b[76] != newlineDetector[3] {
			return nil, invalidFormatf("header: invalid newline detector bytes")
		}
	}

	if h.Flags&FlagEmbeddedLBA != 0 && h.Flags&FlagCompressed == 0 {
		return nil, invalidFormatf("header: EMBEDDED_LBA requires COMPRESSED")
	}

	h.CompressAlgorithm = readUint16LE(b[77:79])
	h.UncleanShutdown = b[72]
	h.Capacity = readUint64LE(b[12:20])
	h.GrainSize = readUint64LE(b[20:28])
	h.DescriptorOffset = readUint64LE(b[28:36])
	h.DescriptorSize = readUint64LE(b[36:44])
	h.NumGTEsPerGT = readUint32LE(b[44:48])
	h.RGDOffset = readUint64LE(b[48:56])
	h.GDOffset = readUint64LE(b[56:64])
	h.OverHead = readUint64LE(b[64:72])

	return h, nil
}

// encodeHeader serializes h into a 512-byte on-disk buffer. When temporary is
// true the magic is XORed to spell "kdmv", marking the file as not yet
// finalized; readers must reject any file whose magic is not exactly "KDMV".
func encodeHeader(h *Header, temporary bool) [SectorSize]byte {
	var b [SectorSize]byte

	magic := uint32(sparseMagic)
	if temporary {
		magic ^= sparseMagicTemporaryXOR
	}
	writeUint32LE(b[0:4], magic)
	writeUint32LE(b[4:8], h.Version)
	writeUint32LE(b[8:12], h.Flags)
	writeUint64LE(b[12:20], h.Capacity)
	writeUint64LE(b[20:28], h.GrainSize)
	writeUint64LE(b[28:36], h.DescriptorOffset)
	writeUint64LE(b[36:44], h.DescriptorSize)
	writeUint32LE(b[44:48], h.NumGTEsPerGT)
	writeUint64LE(b[48:56], h.RGDOffset)
	writeUint64LE(b[56:64], h.GDOffset)
	writeUint64LE(b[64:72], h.OverHead)
	b[72] = h.UncleanShutdown
	b[73] = newlineDetector[0]
	b[74] = newlineDetector[1]
	b[75] = newlineDetector[2]
	b[76] = newlineDetector[3]
	writeUint16LE(b[77:79], h.CompressAlgorithm)
	// b[79:512] is the padding region and is left zeroed.

	return b
}
