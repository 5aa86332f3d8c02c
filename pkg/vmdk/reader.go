package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
)

// Reader parses a sparse stream-optimized VMDK extent, loads its grain
// directory and tables into memory, and serves positional reads over the
// virtual disk's capacity, decompressing grains on demand.
//
// Grounded on Sparse_Open/SparsePread/SparseNextData in sparse.c.
type Reader struct {
	f      *os.File
	hdr    *Header
	tables *gdgt
	logger Logger

	compressed  bool
	embeddedLBA bool

	// readBuf is the compressed-grain scratch area: the first readSlotLen
	// bytes hold the sector-aligned compressed read, the remainder holds
	// the inflated grain. Only allocated when the extent is compressed.
	readBuf     []byte
	readSlotLen int
	grainBuf    []byte
	zr          io.ReadCloser
}

// OpenSparse opens an existing sparse VMDK extent for reading.
func OpenSparse(path string, opts ...ReaderOption) (*Reader, error) {
	cfg := newReaderConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := openReader(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func openReader(f *os.File, cfg *readerConfig) (*Reader, error) {
	var raw [SectorSize]byte
	if _, err := io.ReadFull(f, raw[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, invalidFormatf("header: file shorter than one sector")
		}
		return nil, err
	}

	hdr, err := decodeHeader(raw[:])
	if err != nil {
		return nil, err
	}
	if hdr.GDOffset == gdAtEnd {
		return nil, invalidFormatf("header: gdOffset sentinel (footer-bearing variant unsupported)")
	}

	tables, err := buildGDGT(hdr)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		f:           f,
		hdr:         hdr,
		tables:      tables,
		logger:      cfg.logger,
		compressed:  hdr.Flags&FlagCompressed != 0,
		embeddedLBA: hdr.Flags&FlagEmbeddedLBA != 0,
	}

	if r.compressed {
		r.readBuf = make([]byte, (int(hdr.GrainSize)*2+1)*SectorSize)
		r.readSlotLen = (int(hdr.GrainSize) + 1) * SectorSize
		r.grainBuf = r.readBuf[r.readSlotLen:]
	}

	if err := r.loadGDGT(); err != nil {
		return nil, err
	}

	r.logger.Debugf("vmdk: opened %s, capacity=%d sectors, grainTables=%d", f.Name(), hdr.Capacity, tables.geometry.gts)
	return r, nil
}

// loadGDGT reads the grain directory and, for every allocated grain table,
// its entries -- coalescing physically adjacent table reads into single
// ReadAt calls.
func (r *Reader) loadGDGT() error {
	gdBytes := make([]byte, r.tables.geometry.gdSectors*SectorSize)
	if _, err := r.f.ReadAt(gdBytes, int64(r.hdr.GDOffset)*SectorSize); err != nil {
		return invalidFormatf("grain directory: %v", err)
	}
	for i := range r.tables.gd {
		r.tables.gd[i] = readUint32LE(gdBytes[i*4 : i*4+4])
	}

	runs := mergeGTRuns(r.tables.gd, r.tables.geometry.gtSectors)
	for _, run := range runs {
		n := run.count * int(r.tables.geometry.gtSectors) * SectorSize
		buf := make([]byte, n)
		if _, err := r.f.ReadAt(buf, int64(run.sector)*SectorSize); err != nil {
			return invalidFormatf("grain table: %v", err)
		}
		entriesPerTable := int(r.hdr.NumGTEsPerGT)
		dst := r.tables.gt[run.startTable*entriesPerTable : (run.startTable+run.count)*entriesPerTable]
		for i := range dst {
			dst[i] = readUint32LE(buf[i*4 : i*4+4])
		}
	}
	return nil
}

// Capacity returns the virtual disk size in bytes.
func (r *Reader) Capacity() int64 {
	return int64(r.hdr.Capacity) * SectorSize
}

func (r *Reader) grainSizeBytes() int64 {
	return int64(r.hdr.GrainSize) * SectorSize
}

// grainLogicalLen returns the number of valid bytes in grainNr: a full
// grain for interior grains, the remainder for the final partial grain, or
// 0 past the end of the disk.
func (r *Reader) grainLogicalLen(grainNr uint64) uint32 {
	switch {
	case grainNr < r.tables.geometry.lastGrainNr:
		return uint32(r.grainSizeBytes())
	case grainNr == r.tables.geometry.lastGrainNr:
		return r.tables.geometry.lastGrainSize
	default:
		return 0
	}
}

// ReadAt services a positional read over the virtual disk, grain by grain.
// Reads past the end of the disk are short, not an error.
func (r *Reader) ReadAt(buf []byte, pos int64) (int, error) {
	if pos < 0 {
		return 0, invalidFormatf("pread: negative position")
	}
	grainNr := uint64(pos) / uint64(r.grainSizeBytes())
	readSkip := uint32(uint64(pos) % uint64(r.grainSizeBytes()))

	var done int
	for len(buf) > 0 {
		grainLen := r.grainLogicalLen(grainNr)
		if readSkip >= grainLen {
			break
		}
		readLen := grainLen - readSkip
		if uint32(len(buf)) < readLen {
			readLen = uint32(len(buf))
		}

		dst := buf[:readLen]
		sect := r.tables.entry(grainNr)
		switch sect {
		case 0, 1:
			for i := range dst {
				dst[i] = 0
			}
		default:
			if err := r.readGrainSlice(dst, grainNr, sect, readSkip, grainLen); err != nil {
				return done, err
			}
		}

		buf = buf[readLen:]
		done += int(readLen)
		grainNr++
		readSkip = 0
	}
	return done, nil
}

// readGrainSlice reads dst (a sub-range starting at readSkip within the
// logical grain grainNr of length grainLen) from the on-disk grain stored at
// sector sect, decompressing it first if necessary.
func (r *Reader) readGrainSlice(dst []byte, grainNr uint64, sect uint32, readSkip uint32, grainLen uint32) error {
	if !r.compressed {
		_, err := r.f.ReadAt(dst, int64(sect)*SectorSize+int64(readSkip))
		return err
	}

	if _, err := r.f.ReadAt(r.readBuf[:SectorSize], int64(sect)*SectorSize); err != nil {
		return corruptionf("grain %d: header read: %v", grainNr, err)
	}

	var hdrLen int
	var cmpSize uint32
	if r.embeddedLBA {
		lba := readUint64LE(r.readBuf[0:8])
		if lba != grainNr*r.hdr.GrainSize {
			return corruptionf("grain %d: embedded LBA mismatch (got %d)", grainNr, lba)
		}
		cmpSize = readUint32LE(r.readBuf[8:12])
		hdrLen = 12
	} else {
		cmpSize = readUint32LE(r.readBuf[0:4])
		hdrLen = 4
	}

	if cmpSize > uint32(len(r.readBuf)-r.readSlotLen) {
		return corruptionf("grain %d: oversize compressed payload (%d bytes)", grainNr, cmpSize)
	}

	total := int(cmpSize) + hdrLen
	if total > SectorSize {
		remaining := ceilDiv(uint64(total-SectorSize), SectorSize) * SectorSize
		if _, err := r.f.ReadAt(r.readBuf[SectorSize:SectorSize+int(remaining)], int64(sect+1)*SectorSize); err != nil {
			return corruptionf("grain %d: payload read: %v", grainNr, err)
		}
	}

	n, err := r.inflate(r.readBuf[hdrLen:total], r.grainBuf)
	if err != nil {
		return corruptionf("grain %d: inflate: %v", grainNr, err)
	}
	if uint32(n) < grainLen {
		return corruptionf("grain %d: inflated %d bytes, wanted >= %d", grainNr, n, grainLen)
	}

	copy(dst, r.grainBuf[readSkip:readSkip+uint32(len(dst))])
	return nil
}

// inflate decompresses compressed into out, reusing the reader's zlib
// state across grains.
func (r *Reader) inflate(compressed []byte, out []byte) (int, error) {
	var err error
	if r.zr == nil {
		r.zr, err = zlib.NewReader(bytes.NewReader(compressed))
	} else if resetter, ok := r.zr.(zlib.Resetter); ok {
		err = resetter.Reset(bytes.NewReader(compressed), nil)
	} else {
		r.zr, err = zlib.NewReader(bytes.NewReader(compressed))
	}
	if err != nil {
		return 0, err
	}

	n, err := io.ReadFull(r.zr, out)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, err
	}
	return n, nil
}

// NextData enumerates the allocated (non-hole) ranges of the virtual disk.
// cursor is the end of the previous range (0 to start from the beginning).
// It returns ErrEndOfData once no further allocated range exists.
//
// Grounded on SparseNextData in sparse.c.
func (r *Reader) NextData(cursor int64) (pos int64, end int64, err error) {
	grainSize := r.grainSizeBytes()
	grainNr := uint64(cursor) / uint64(grainSize)
	skip := cursor % grainSize
	want := false

	for grainNr < r.tables.geometry.gtes {
		empty := r.tables.entry(grainNr) == 0
		if empty == want {
			if want {
				return pos, int64(grainNr) * grainSize, nil
			}
			pos = int64(grainNr)*grainSize + skip
			want = true
		}
		skip = 0
		grainNr++
	}
	if want {
		end = int64(r.tables.geometry.lastGrainNr)*grainSize + int64(r.tables.geometry.lastGrainSize)
		return pos, end, nil
	}
	return 0, 0, ErrEndOfData
}

// Close releases the reader's file handle and decompression state.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return r.f.Close()
}
