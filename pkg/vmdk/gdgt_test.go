package vmdk

import "testing"

func TestComputeGeometry(t *testing.T) {
	g, err := computeGeometry(2048, 128, 512)
	if err != nil {
		t.Fatalf("computeGeometry: %v", err)
	}
	if g.lastGrainNr != 16 || g.lastGrainSize != 0 {
		t.Errorf("lastGrainNr/lastGrainSize = %d/%d, want 16/0", g.lastGrainNr, g.lastGrainSize)
	}
	if g.gtes != 16 {
		t.Errorf("gtes = %d, want 16", g.gtes)
	}
	if g.gts != 1 {
		t.Errorf("gts = %d, want 1", g.gts)
	}
}

func TestComputeGeometryPartialLastGrain(t *testing.T) {
	g, err := computeGeometry(2050, 128, 512)
	if err != nil {
		t.Fatalf("computeGeometry: %v", err)
	}
	if g.lastGrainNr != 16 {
		t.Errorf("lastGrainNr = %d, want 16", g.lastGrainNr)
	}
	if g.lastGrainSize != 2*SectorSize {
		t.Errorf("lastGrainSize = %d, want %d", g.lastGrainSize, 2*SectorSize)
	}
	if g.gtes != 17 {
		t.Errorf("gtes = %d, want 17", g.gtes)
	}
}

func TestComputeGeometryRejectsBadGrainSize(t *testing.T) {
	if _, err := computeGeometry(2048, 3, 512); err == nil {
		t.Fatal("computeGeometry accepted a non-power-of-two grain size")
	}
	if _, err := computeGeometry(2048, 256, 512); err == nil {
		t.Fatal("computeGeometry accepted a grain size above 128")
	}
}

func TestComputeGeometryRejectsBadNumGTEsPerGT(t *testing.T) {
	if _, err := computeGeometry(2048, 128, 100); err == nil {
		t.Fatal("computeGeometry accepted numGTEsPerGT below 128")
	}
	if _, err := computeGeometry(2048, 128, 300); err == nil {
		t.Fatal("computeGeometry accepted a non-power-of-two numGTEsPerGT")
	}
}

func TestGDGTPrefillAndAccessors(t *testing.T) {
	h := baseHeader()
	h.Capacity = 128 * 512 * 3 // force multiple grain tables (3 full GTs)
	tables, err := buildGDGT(h)
	if err != nil {
		t.Fatalf("buildGDGT: %v", err)
	}

	next := tables.prefillGD(100)
	for i, v := range tables.gd {
		want := uint32(100) + uint32(i)*tables.geometry.gtSectors
		if v != want {
			t.Errorf("gd[%d] = %d, want %d", i, v, want)
		}
	}
	wantNext := uint32(100) + uint32(len(tables.gd))*tables.geometry.gtSectors
	if next != wantNext {
		t.Errorf("prefillGD returned %d, want %d", next, wantNext)
	}

	tables.setEntry(5, 999)
	if tables.entry(5) != 999 {
		t.Errorf("entry(5) = %d, want 999", tables.entry(5))
	}
	if len(tables.table(5)) != int(tables.numGTEsPerGT) {
		t.Errorf("table(5) length = %d, want %d", len(tables.table(5)), tables.numGTEsPerGT)
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uint64{1, 2, 4, 128, 512} {
		if !isPowerOfTwo(v) {
			t.Errorf("isPowerOfTwo(%d) = false, want true", v)
		}
	}
	for _, v := range []uint64{0, 3, 5, 100, 129} {
		if isPowerOfTwo(v) {
			t.Errorf("isPowerOfTwo(%d) = true, want false", v)
		}
	}
}
