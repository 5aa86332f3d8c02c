package vmdk

import "testing"

func TestLEReadWriteRoundTrip(t *testing.T) {
	var b [8]byte

	writeUint16LE(b[:2], 0xABCD)
	if got := readUint16LE(b[:2]); got != 0xABCD {
		t.Errorf("uint16 round trip: got 0x%04x", got)
	}

	writeUint32LE(b[:4], 0xDEADBEEF)
	if got := readUint32LE(b[:4]); got != 0xDEADBEEF {
		t.Errorf("uint32 round trip: got 0x%08x", got)
	}

	writeUint64LE(b[:8], 0x0102030405060708)
	if got := readUint64LE(b[:8]); got != 0x0102030405060708 {
		t.Errorf("uint64 round trip: got 0x%016x", got)
	}
}

func TestLEByteOrder(t *testing.T) {
	var b [4]byte
	writeUint32LE(b[:], 0x01020304)
	want := [4]byte{0x04, 0x03, 0x02, 0x01}
	if b != want {
		t.Errorf("writeUint32LE byte order = %v, want %v", b, want)
	}
}
