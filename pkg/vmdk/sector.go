package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

// SectorSize is the fixed on-disk unit of offset arithmetic for the sparse
// VMDK format. All header and grain-table offsets are expressed in sectors;
// all reader/writer positional I/O is expressed in bytes.
const SectorSize = 512

// readUint16LE reads a little-endian uint16 from an arbitrary, possibly
// unaligned, position in b. The on-disk header packs several multi-byte
// fields at offsets that are not naturally aligned for their width, so this
// package never casts byte slices to integer pointers -- every multi-byte
// field is read and written through these helpers instead.
func readUint16LE(b []byte) uint16 {
	_ = b[1]
	return uint16(b[0]) | uint16(b[1])<<8
}

func readUint32LE(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func readUint64LE(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func writeUint16LE(b []byte, v uint16) {
	_ = b[1]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func writeUint32LE(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeUint64LE(b []byte, v uint64) {
	_ = b[7]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
