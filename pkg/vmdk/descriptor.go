package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// descriptorTemplate mirrors makeDiskDescriptorFile in sparse.c field for
// field.
const descriptorTemplate = `# Disk DescriptorFile
version=1
encoding="UTF-8"
CID=%08x
parentCID=ffffffff
createType="streamOptimized"

# Extent description
RW %d SPARSE "%s"

# The Disk Data Base
#DDB

ddb.longContentID = "%s"
ddb.virtualHWVersion = "4"
ddb.geometry.cylinders = "%d"
ddb.geometry.heads = "255"
ddb.geometry.sectors = "63"
ddb.adapterType = "lsilogic"
ddb.toolsInstallType = "4"
ddb.toolsVersion = "%s"
`

const (
	maxCID     = 0xFFFFFFFF
	parentNone = 0xFFFFFFFE
)

// cylinders computes the CHS cylinder count the same way makeDiskDescriptorFile
// does: 255 heads, 63 sectors-per-track, capped at 65535 cylinders.
func cylinders(capacitySectors uint64) uint64 {
	const headsTimesSectors = 255 * 63
	if capacitySectors > 65535*headsTimesSectors {
		return 65535
	}
	return ceilDiv(capacitySectors, headsTimesSectors)
}

// generateCID picks a random 32-bit content ID, excluding the two values
// some software treats specially (no-parent and disk-full-of-zeroes).
func generateCID(rng *rand.Rand) uint32 {
	for {
		cid := rng.Uint32()
		if cid != maxCID && cid != parentNone {
			return cid
		}
	}
}

// generateLongContentID produces the 128-bit ddb.longContentID value, the
// way makeDiskDescriptorFile does with four calls to mrand48() to fill 16
// bytes. This implementation draws the 16 random bytes from the writer's own
// rng, wraps them in a uuid.UUID so the 32-hex-character form comes from
// uuid.String() rather than hand-rolled hex formatting, and strips the
// dashes String() inserts since the on-disk field has none.
func generateLongContentID(rng *rand.Rand) string {
	var raw [16]byte
	if _, err := rng.Read(raw[:]); err != nil {
		// math/rand.Rand.Read never errors; this is unreachable.
		panic(err)
	}
	id, err := uuid.FromBytes(raw[:])
	if err != nil {
		panic(err)
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// buildDescriptor composes the textual disk descriptor embedded at
// descriptorOffset. extentFilename is the extent's own file name (the
// descriptor refers to itself for a single-extent stream-optimized image).
func buildDescriptor(extentFilename string, capacitySectors uint64, cid uint32, longContentID string, toolsVersion string) string {
	return fmt.Sprintf(descriptorTemplate,
		cid,
		capacitySectors,
		extentFilename,
		longContentID,
		cylinders(capacitySectors),
		toolsVersion,
	)
}
