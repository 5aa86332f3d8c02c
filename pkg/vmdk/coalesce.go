package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

// gtRun describes a maximal run of grain tables whose on-disk sector offsets
// (as recorded in the grain directory) are physically contiguous, so they
// can be fetched with a single ReadAt instead of one read per table.
//
// Grounded on CoalescedPreader in sparse.c: that code coalesces at the
// syscall layer by comparing the next requested (pos, buf) pair against the
// tail of the pending request. Because this codec lays every grain table
// out contiguously, in grain-directory order, inside one backing allocation
// (see buildGDGT), a destination-contiguous run and a grain-directory-index
// run are the same thing, so the merge can be computed directly over the
// grain directory instead of over raw (offset, pointer) pairs.
type gtRun struct {
	startTable int    // index into gd / first table index of the run
	count      int    // number of tables in the run
	sector     uint32 // on-disk sector offset of the first table in the run
}

// mergeGTRuns scans gd (one on-disk sector offset per grain table, or 0 for
// a table that was never allocated) and returns the maximal contiguous runs
// of allocated tables, in ascending gd-index order. gtSectors is the size in
// sectors of a single grain table.
func mergeGTRuns(gd []uint32, gtSectors uint32) []gtRun {
	var runs []gtRun
	for i := 0; i < len(gd); i++ {
		loc := gd[i]
		if loc == 0 {
			continue
		}
		if n := len(runs); n > 0 {
			last := &runs[n-1]
			if last.startTable+last.count == i && last.sector+uint32(last.count)*gtSectors == loc {
				last.count++
				continue
			}
		}
		runs = append(runs, gtRun{startTable: i, count: 1, sector: loc})
	}
	return runs
}
