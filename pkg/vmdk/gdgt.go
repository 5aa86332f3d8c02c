package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

// geometry holds the derived sizes of the grain directory and grain tables
// for a given header, per the formulas in getGDGT (sparse.c): lastGrainNr,
// lastGrainSize, GTEs, GTs, GDsectors and GTsectors.
type geometry struct {
	lastGrainNr   uint64
	lastGrainSize uint32
	gtes          uint64
	gts           uint32
	gdSectors     uint32
	gtSectors     uint32
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

func ceilDiv(n, d uint64) uint64 {
	return (n + d - 1) / d
}

// computeGeometry validates grainSize/numGTEsPerGT and derives the table
// geometry for capacity (all in sectors), exactly as getGDGT does.
func computeGeometry(capacity, grainSize uint64, numGTEsPerGT uint32) (geometry, error) {
	var g geometry

	if grainSize < 1 || grainSize > 128 {
		return g, invalidFormatf("gdgt: grain size %d sectors is outside [1,128]", grainSize)
	}
	if !isPowerOfTwo(grainSize) {
		return g, unsupportedf("gdgt: grain size %d sectors is not a power of two", grainSize)
	}
	if numGTEsPerGT < SectorSize/4 {
		return g, invalidFormatf("gdgt: numGTEsPerGT %d is below %d", numGTEsPerGT, SectorSize/4)
	}
	if !isPowerOfTwo(uint64(numGTEsPerGT)) {
		return g, unsupportedf("gdgt: numGTEsPerGT %d is not a power of two", numGTEsPerGT)
	}

	g.lastGrainNr = capacity / grainSize
	g.lastGrainSize = uint32((capacity % grainSize) * SectorSize)

	gtes := g.lastGrainNr
	if g.lastGrainSize != 0 {
		gtes++
	}
	g.gtes = gtes

	gts := uint32(ceilDiv(gtes, uint64(numGTEsPerGT)))
	g.gts = gts
	g.gdSectors = uint32(ceilDiv(uint64(gts)*4, SectorSize))
	g.gtSectors = uint32(ceilDiv(uint64(numGTEsPerGT)*4, SectorSize))

	return g, nil
}

// gdgt is the in-memory grain directory + all grain tables, backed by a
// single contiguous allocation so that a writer can emit it with one
// sequential write at finalize time and a reader can treat gt as a flat
// bit-vector for NextData. gd holds one grain-table sector offset per table;
// gt holds geometry.gts * numGTEsPerGT grain entries, numGTEsPerGT per table.
type gdgt struct {
	geometry     geometry
	numGTEsPerGT uint32
	gd           []uint32
	gt           []uint32
}

func buildGDGT(h *Header) (*gdgt, error) {
	g, err := computeGeometry(h.Capacity, h.GrainSize, h.NumGTEsPerGT)
	if err != nil {
		return nil, err
	}

	backing := make([]uint32, uint64(g.gdSectors)*SectorSize/4+uint64(g.gtSectors)*uint64(g.gts)*SectorSize/4)
	gd := backing[:g.gdSectors*SectorSize/4]
	gt := backing[g.gdSectors*SectorSize/4:]

	return &gdgt{
		geometry:     g,
		numGTEsPerGT: h.NumGTEsPerGT,
		gd:           gd[:g.gts],
		gt:           gt,
	}, nil
}

// prefillGD writes sequential grain-table sector offsets into gd, starting
// at startSector and advancing by GTsectors per table. It returns the sector
// immediately following the last grain table, i.e. where grain data may
// begin.
func (t *gdgt) prefillGD(startSector uint32) uint32 {
	sector := startSector
	for i := range t.gd {
		t.gd[i] = sector
		sector += t.geometry.gtSectors
	}
	return sector
}

// table returns the grain-table slice for grain number grainNr.
func (t *gdgt) table(grainNr uint64) []uint32 {
	tableIdx := grainNr / uint64(t.numGTEsPerGT)
	start := tableIdx * uint64(t.numGTEsPerGT)
	return t.gt[start : start+uint64(t.numGTEsPerGT)]
}

// entry returns the grain table entry (on-disk sector offset, or 0/1
// sentinel) for grainNr.
func (t *gdgt) entry(grainNr uint64) uint32 {
	return t.gt[grainNr]
}

func (t *gdgt) setEntry(grainNr uint64, sector uint32) {
	t.gt[grainNr] = sector
}
