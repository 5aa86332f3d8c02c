package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import (
	"bytes"
	"os"

	"github.com/klauspost/compress/zlib"
)

// markerEOS is the special marker sector type terminating the compressed
// grain stream; GT/GD/FOOTER/PROGRESS markers are part of the on-disk format
// but this writer never emits them (grain tables are written as a plain
// array, not as marker sectors, matching the stream-optimized profile this
// package produces).
const markerEOS = 0

// Writer builds a stream-optimized sparse VMDK extent: grains are buffered
// one at a time, DEFLATE-compressed, and appended sequentially; the grain
// directory, tables, and descriptor are only committed to disk at Close.
//
// Grounded on StreamOptimized_Create/StreamOptimizedPwrite/fillGrain/
// flushGrain/StreamOptimizedClose in sparse.c.
type Writer struct {
	f      *os.File
	path   string
	hdr    *Header
	tables *gdgt
	cfg    *writerConfig
	logger Logger

	extentFilename string

	curSP uint64 // sectors from file start; monotonic write cursor

	grainBuffer   []byte
	hasGrain      bool
	grainBufferNr uint64
	validStart    uint32
	validEnd      uint32

	zw         *zlib.Writer
	deflateOut *bytes.Buffer

	closed bool
}

const (
	writerVersion        = 3
	writerNumGTEsPerGT   = 512
	writerGrainSize      = 128 // sectors = 64 KiB
	descriptorSizeSector = 20
)

// CreateStreamOptimized creates a new stream-optimized sparse VMDK extent at
// path sized to hold capacityBytes, ready to accept monotonic positional
// writes via WriteAt.
func CreateStreamOptimized(path string, capacityBytes int64, opts ...WriterOption) (*Writer, error) {
	if capacityBytes < 0 {
		return nil, invalidFormatf("create: negative capacity")
	}
	cfg := newWriterConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	hdr := &Header{
		Version:           writerVersion,
		Flags:             FlagValidNewlineDetector | FlagCompressed | FlagEmbeddedLBA,
		Capacity:          ceilDiv(uint64(capacityBytes), SectorSize),
		GrainSize:         writerGrainSize,
		NumGTEsPerGT:      writerNumGTEsPerGT,
		CompressAlgorithm: CompressDeflate,
		OverHead:          1,
	}

	tables, err := buildGDGT(hdr)
	if err != nil {
		return nil, err
	}

	overHead := hdr.OverHead
	hdr.DescriptorOffset = overHead
	hdr.DescriptorSize = descriptorSizeSector
	overHead += hdr.DescriptorSize

	hdr.GDOffset = overHead
	overHead += uint64(tables.geometry.gdSectors)
	overHead = tables.prefillGDAt(overHead)
	hdr.OverHead = overHead

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	deflateOut := bytes.NewBuffer(make([]byte, 0, deflateBound(int(hdr.GrainSize*SectorSize))))
	zw, err := zlib.NewWriterLevel(deflateOut, zlib.BestCompression)
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &Writer{
		f:              f,
		path:           path,
		hdr:            hdr,
		tables:         tables,
		cfg:            cfg,
		logger:         cfg.logger,
		extentFilename: filenameOf(path),
		curSP:          overHead,
		grainBuffer:    make([]byte, hdr.GrainSize*SectorSize),
		zw:             zw,
		deflateOut:     deflateOut,
	}
	w.logger.Debugf("vmdk: created %s, capacity=%d sectors, overHead=%d sectors", path, hdr.Capacity, overHead)
	return w, nil
}

// filenameOf returns the base name to embed in the descriptor's extent line.
func filenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// prefillGDAt is prefillGD under a name that makes the overHead threading in
// CreateStreamOptimized read linearly; it delegates entirely to prefillGD.
func (t *gdgt) prefillGDAt(startSector uint64) uint64 {
	return uint64(t.prefillGD(uint32(startSector)))
}

// deflateBound mirrors zlib's deflateBound formula (worst-case expansion of
// incompressible input under stored blocks) plus the 12-byte embedded-LBA
// grain header, so the writer's scratch buffer rarely needs to grow once
// running; bytes.Buffer still grows past this if a pathological input
// exceeds it, since Go has no fixed-capacity-or-fail buffer primitive here.
func deflateBound(srcLen int) int {
	return srcLen + srcLen>>12 + srcLen>>14 + srcLen>>25 + 13 + 12
}

func (w *Writer) grainSizeBytes() int64 {
	return int64(w.hdr.GrainSize) * SectorSize
}

func (w *Writer) grainLogicalLen(grainNr uint64) uint32 {
	switch {
	case grainNr < w.tables.geometry.lastGrainNr:
		return uint32(w.grainSizeBytes())
	case grainNr == w.tables.geometry.lastGrainNr:
		return w.tables.geometry.lastGrainSize
	default:
		return 0
	}
}

// WriteAt accepts a positional write. Writes are expected to be
// grain-monotonic: once the writer has moved past a grain, writing into it
// again fails with ErrUnsupported.
func (w *Writer) WriteAt(buf []byte, pos int64) (int, error) {
	if w.closed {
		return 0, invalidFormatf("write: writer closed")
	}
	if pos < 0 {
		return 0, invalidFormatf("write: negative position")
	}

	grainBytes := w.grainSizeBytes()
	var done int
	for len(buf) > 0 {
		grainNr := uint64(pos) / uint64(grainBytes)
		offset := uint32(uint64(pos) % uint64(grainBytes))

		if !w.hasGrain || grainNr != w.grainBufferNr {
			if err := w.flushGrain(); err != nil {
				return done, err
			}
			w.grainBufferNr = grainNr
			w.hasGrain = true
			w.validStart, w.validEnd = 0, 0
		}

		grainLen := w.grainLogicalLen(grainNr)
		chunk := uint32(len(buf))
		if remain := grainLen - offset; chunk > remain {
			chunk = remain
		}
		if chunk == 0 {
			break
		}

		empty := w.validStart == 0 && w.validEnd == 0
		if empty || offset > w.validEnd || offset+chunk < w.validStart {
			if err := w.fillGrain(); err != nil {
				return done, err
			}
		}

		copy(w.grainBuffer[offset:offset+chunk], buf[:chunk])
		if offset < w.validStart {
			w.validStart = offset
		}
		if end := offset + chunk; end > w.validEnd {
			w.validEnd = end
		}

		buf = buf[chunk:]
		pos += int64(chunk)
		done += int(chunk)
	}
	return done, nil
}

// fillGrain materializes grainBuffer[0:grainLen) fully valid, zero-filling
// the gaps around the current [validStart, validEnd) window. It fails if the
// grain table entry for the buffered grain is already set, meaning this
// grain was already emitted: stream-optimized extents are append-only.
func (w *Writer) fillGrain() error {
	grainLen := w.grainLogicalLen(w.grainBufferNr)
	if w.validStart == 0 && w.validEnd == grainLen {
		return nil
	}
	if w.tables.entry(w.grainBufferNr) != 0 {
		return unsupportedf("write: grain %d already emitted (read-modify-write unsupported)", w.grainBufferNr)
	}
	for i := uint32(0); i < w.validStart; i++ {
		w.grainBuffer[i] = 0
	}
	for i := w.validEnd; i < grainLen; i++ {
		w.grainBuffer[i] = 0
	}
	w.validStart, w.validEnd = 0, grainLen
	return nil
}

// isAllZero checks the buffered grain for all-zero content, 8 bytes at a
// time, the way flushGrain's hole detection does in sparse.c.
func isAllZero(b []byte) bool {
	i := 0
	for ; i+8 <= len(b); i += 8 {
		var v uint64
		for j := 0; j < 8; j++ {
			v |= uint64(b[i+j])
		}
		if v != 0 {
			return false
		}
	}
	for ; i < len(b); i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}

// flushGrain compresses and emits the buffered grain, or leaves it as an
// unallocated hole if it is entirely zero.
func (w *Writer) flushGrain() error {
	if !w.hasGrain || w.validEnd == 0 {
		return nil
	}
	if err := w.fillGrain(); err != nil {
		return err
	}

	grainLen := w.grainLogicalLen(w.grainBufferNr)
	data := w.grainBuffer[:grainLen]
	if isAllZero(data) {
		w.hasGrain = false
		return nil
	}

	w.deflateOut.Reset()
	w.zw.Reset(w.deflateOut)
	if _, err := w.zw.Write(data); err != nil {
		return err
	}
	if err := w.zw.Close(); err != nil {
		return err
	}

	cmpSize := uint32(w.deflateOut.Len())
	var hdr [12]byte
	writeUint64LE(hdr[0:8], w.grainBufferNr*w.hdr.GrainSize)
	writeUint32LE(hdr[8:12], cmpSize)

	total := len(hdr) + w.deflateOut.Len()
	paddedSectors := ceilDiv(uint64(total), SectorSize)
	block := make([]byte, paddedSectors*SectorSize)
	copy(block, hdr[:])
	copy(block[len(hdr):], w.deflateOut.Bytes())

	if _, err := w.f.WriteAt(block, int64(w.curSP)*SectorSize); err != nil {
		return err
	}

	w.tables.setEntry(w.grainBufferNr, uint32(w.curSP))
	w.curSP += paddedSectors
	w.hasGrain = false
	return nil
}

// writeMarkerSector serializes a special marker sector of the given type at
// the writer's current cursor and advances it by one sector.
func (w *Writer) writeMarkerSector(markerType uint32) error {
	var b [SectorSize]byte
	writeUint32LE(b[12:16], markerType)
	if _, err := w.f.WriteAt(b[:], int64(w.curSP)*SectorSize); err != nil {
		return err
	}
	w.curSP++
	return nil
}

// encodeGDGT serializes the grain directory followed by all grain tables as
// one contiguous little-endian buffer, matching the single sequential write
// finalize performs.
func (w *Writer) encodeGDGT() []byte {
	n := (int(w.tables.geometry.gdSectors) + int(w.tables.geometry.gtSectors)*int(w.tables.geometry.gts)) * SectorSize
	buf := make([]byte, n)
	off := 0
	for _, v := range w.tables.gd {
		writeUint32LE(buf[off:off+4], v)
		off += 4
	}
	off = int(w.tables.geometry.gdSectors) * SectorSize
	for _, v := range w.tables.gt {
		writeUint32LE(buf[off:off+4], v)
		off += 4
	}
	return buf
}

// Close finalizes the extent: flushes any buffered grain, writes the EOS
// marker, the grain directory and tables, the descriptor, and finally
// performs the two-phase (temporary-then-real magic) header write that makes
// the file crash-safe to interpret.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.flushGrain(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.writeMarkerSector(markerEOS); err != nil {
		w.f.Close()
		return err
	}

	if _, err := w.f.WriteAt(w.encodeGDGT(), int64(w.hdr.GDOffset)*SectorSize); err != nil {
		w.f.Close()
		return err
	}

	cid := generateCID(w.cfg.rng)
	if w.cfg.cidOverride != nil {
		cid = *w.cfg.cidOverride
	}
	longContentID := generateLongContentID(w.cfg.rng)
	descriptor := buildDescriptor(w.extentFilename, w.hdr.Capacity, cid, longContentID, w.cfg.toolsVersion)
	descBuf := make([]byte, w.hdr.DescriptorSize*SectorSize)
	copy(descBuf, descriptor)
	if _, err := w.f.WriteAt(descBuf, int64(w.hdr.DescriptorOffset)*SectorSize); err != nil {
		w.f.Close()
		return err
	}

	tempHeader := encodeHeader(w.hdr, true)
	if _, err := w.f.WriteAt(tempHeader[:], 0); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}

	realHeader := encodeHeader(w.hdr, false)
	if _, err := w.f.WriteAt(realHeader[:], 0); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}

	w.logger.Debugf("vmdk: finalized %s, cid=%08x", w.path, cid)
	return w.f.Close()
}

// Abort releases the writer's resources without finalizing. The file left on
// disk carries only the temporary, never-written-to header region and is not
// guaranteed to be a valid extent; callers that want a clean slate should
// remove it themselves.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.logger.Warnf("vmdk: aborted %s", w.path)
	return w.f.Close()
}
