package vmdk

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparsedisk/vmdk/pkg/elog"
)

func tempPath(t *testing.T) string {
	dir, err := ioutil.TempDir("", "vmdk-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "disk.vmdk")
}

// TestRoundTripEmptyDisk covers S1: an empty disk reports the requested
// capacity, no data ranges, and all-zero reads.
func TestRoundTripEmptyDisk(t *testing.T) {
	path := tempPath(t)

	w, err := CreateStreamOptimized(path, 1048576, WithRandSource(1))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenSparse(path)
	require.NoError(t, err)
	defer r.Close()

	assert.EqualValues(t, 1048576, r.Capacity())

	_, _, err = r.NextData(0)
	assert.ErrorIs(t, err, ErrEndOfData)

	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
	assert.True(t, isAllZero(buf))

	var magic [4]byte
	f, err := os.Open(path)
	require.NoError(t, err)
	_, err = f.Read(magic[:])
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, "KDMV", string(magic[:]))
}

// TestRoundTripSingleGrain covers S2: a single grain written at the origin
// reads back exactly, with a zero byte immediately past it.
func TestRoundTripSingleGrain(t *testing.T) {
	path := tempPath(t)
	grain := bytes.Repeat([]byte{0xAB}, 65536)

	w, err := CreateStreamOptimized(path, 1048576, WithRandSource(2))
	require.NoError(t, err)
	n, err := w.WriteAt(grain, 0)
	require.NoError(t, err)
	require.Equal(t, len(grain), n)
	require.NoError(t, w.Close())

	r, err := OpenSparse(path)
	require.NoError(t, err)
	defer r.Close()

	pos, end, err := r.NextData(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)
	assert.EqualValues(t, 65536, end)

	got := make([]byte, 65536)
	n, err = r.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, 65536, n)
	assert.Equal(t, grain, got)

	one := make([]byte, 1)
	n, err = r.ReadAt(one, 65536)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(0), one[0])
}

// TestRoundTripGrainAlignedHoles covers S3: two grains separated by an
// untouched hole read back with the gap as zeros and next_data reporting two
// disjoint ranges.
func TestRoundTripGrainAlignedHoles(t *testing.T) {
	path := tempPath(t)
	first := bytes.Repeat([]byte{0x01}, 65536)
	second := bytes.Repeat([]byte{0x02}, 65536)

	w, err := CreateStreamOptimized(path, 1048576, WithRandSource(3))
	require.NoError(t, err)
	_, err = w.WriteAt(first, 0)
	require.NoError(t, err)
	_, err = w.WriteAt(second, 131072)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenSparse(path)
	require.NoError(t, err)
	defer r.Close()

	pos, end, err := r.NextData(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)
	assert.EqualValues(t, 65536, end)

	pos, end, err = r.NextData(end)
	require.NoError(t, err)
	assert.EqualValues(t, 131072, pos)
	assert.EqualValues(t, 197632, end)

	_, _, err = r.NextData(end)
	assert.ErrorIs(t, err, ErrEndOfData)

	gap := make([]byte, 65536)
	_, err = r.ReadAt(gap, 65536)
	require.NoError(t, err)
	assert.True(t, isAllZero(gap))
}

// TestWriteAfterEmitRejected covers S5: re-touching a grain after the writer
// has advanced past it fails as unsupported.
func TestWriteAfterEmitRejected(t *testing.T) {
	path := tempPath(t)

	w, err := CreateStreamOptimized(path, 1048576, WithRandSource(4))
	require.NoError(t, err)

	grain := bytes.Repeat([]byte{0x03}, 65536)
	_, err = w.WriteAt(grain, 0)
	require.NoError(t, err)
	_, err = w.WriteAt(grain, 65536)
	require.NoError(t, err)

	_, err = w.WriteAt(grain, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}

// TestTornFinalizeRejected covers S6: a file whose header still carries the
// temporary magic is rejected on open.
func TestTornFinalizeRejected(t *testing.T) {
	path := tempPath(t)

	w, err := CreateStreamOptimized(path, 1048576, WithRandSource(5))
	require.NoError(t, err)
	_, err = w.WriteAt(bytes.Repeat([]byte{0x09}, 65536), 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Tear the file by restoring the temporary magic after a successful
	// finalize, simulating a crash between the two header writes.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	raw := encodeHeader(baseHeaderFromFile(t, path), true)
	_, err = f.WriteAt(raw[:], 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = OpenSparse(path)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

// TestElogCLISatisfiesLogger proves pkg/elog.CLI actually interoperates with
// WithLogger/WithReaderLogger's duck-typed Logger interface: a *CLI is never
// imported by this package, only passed in by a caller that happens to use
// it as its logging implementation.
func TestElogCLISatisfiesLogger(t *testing.T) {
	path := tempPath(t)
	log := &elog.CLI{IsDebug: true, IsVerbose: true}

	w, err := CreateStreamOptimized(path, 1048576, WithRandSource(8), WithLogger(log))
	require.NoError(t, err)
	_, err = w.WriteAt(bytes.Repeat([]byte{0x0A}, 65536), 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenSparse(path, WithReaderLogger(log))
	require.NoError(t, err)
	defer r.Close()

	got := make([]byte, 65536)
	_, err = r.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x0A}, 65536), got)
}

func baseHeaderFromFile(t *testing.T, path string) *Header {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var raw [SectorSize]byte
	_, err = f.Read(raw[:])
	require.NoError(t, err)
	h, err := decodeHeader(raw[:])
	require.NoError(t, err)
	return h
}

// TestExplicitZeroGrainReadsAsZero covers S4 and universal invariant 7: a
// grain table entry of 1 reads back as all zeros and counts as allocated.
func TestExplicitZeroGrainReadsAsZero(t *testing.T) {
	path := tempPath(t)

	w, err := CreateStreamOptimized(path, 1048576, WithRandSource(6))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	var raw [SectorSize]byte
	_, err = f.ReadAt(raw[:], 0)
	require.NoError(t, err)
	h, err := decodeHeader(raw[:])
	require.NoError(t, err)

	// The grain directory stores table sector offsets, not entries directly;
	// locate the first table's sector via the directory entry before poking
	// its first 4-byte entry to the explicit-zero-grain sentinel.
	var gdEntry [4]byte
	_, err = f.ReadAt(gdEntry[:], int64(h.GDOffset)*SectorSize)
	require.NoError(t, err)
	tableSector := readUint32LE(gdEntry[:])

	var gtEntry [4]byte
	writeUint32LE(gtEntry[:], 1)
	_, err = f.WriteAt(gtEntry[:], int64(tableSector)*SectorSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := OpenSparse(path)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 65536)
	n, err := r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 65536, n)
	assert.True(t, isAllZero(buf))

	pos, end, err := r.NextData(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)
	assert.EqualValues(t, 65536, end)
}
