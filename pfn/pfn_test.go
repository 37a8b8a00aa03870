package pfn_test

import (
	"errors"
	"testing"

	"github.com/xtboot/xtkernel/pfn"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		typ  pfn.MemoryType
		want pfn.Bucket
	}{
		{pfn.TypeFree, pfn.BucketFree},
		{pfn.TypeFirmwareTemporary, pfn.BucketFree},
		{pfn.TypeLoadedProgram, pfn.BucketFree},
		{pfn.TypeLoaderOsloaderStack, pfn.BucketFree},
		{pfn.TypeFirmwarePermanent, pfn.BucketInvisible},
		{pfn.TypeSpecialMemory, pfn.BucketInvisible},
		{pfn.TypeBBTMemory, pfn.BucketInvisible},
		{pfn.TypeHALCode, pfn.BucketOther},
		{pfn.TypeBad, pfn.BucketOther},
	}

	for _, c := range cases {
		if got := pfn.Classify(c.typ); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestScanBelowMinimumPanics(t *testing.T) {
	t.Parallel()

	descs := []pfn.Descriptor{{BasePage: 0, PageCount: 10, Type: pfn.TypeFree}}

	_, err := pfn.Scan(descs, true)
	if !errors.Is(err, pfn.ErrInsufficientMemory) {
		t.Fatalf("got %v, want ErrInsufficientMemory", err)
	}
}

func TestScanPicksBootstrapAndRange(t *testing.T) {
	t.Parallel()

	descs := []pfn.Descriptor{
		{BasePage: 0x100, PageCount: 100, Type: pfn.TypeFree},
		{BasePage: 0x200, PageCount: 4000, Type: pfn.TypeFree}, // largest free run
		{BasePage: 0x2000, PageCount: 8, Type: pfn.TypeHALCode},
		{BasePage: 0x3000, PageCount: 8, Type: pfn.TypeFirmwarePermanent}, // invisible
	}

	s, err := pfn.Scan(descs, true)
	if err != nil {
		t.Fatal(err)
	}

	if s.TotalFreePages != 4100 {
		t.Fatalf("TotalFreePages = %d, want 4100", s.TotalFreePages)
	}

	if s.Bootstrap.BasePage != 0x200 || s.Bootstrap.PageCount != 4000 {
		t.Fatalf("Bootstrap = %+v, want base 0x200 count 4000", s.Bootstrap)
	}

	if s.LowestPage != 0x100 {
		t.Fatalf("LowestPage = %#x, want 0x100", s.LowestPage)
	}

	if s.HighestPage != 0x2000+8-1 {
		t.Fatalf("HighestPage = %#x, want %#x", s.HighestPage, 0x2000+8-1)
	}
}

func TestNewDatabaseExcludesBootstrapFromFreeLists(t *testing.T) {
	t.Parallel()

	descs := []pfn.Descriptor{
		{BasePage: 0, PageCount: 2048, Type: pfn.TypeFree},
		{BasePage: 2048, PageCount: 10, Type: pfn.TypeFree},
	}

	s, err := pfn.Scan(descs, true)
	if err != nil {
		t.Fatal(err)
	}

	db, err := pfn.NewDatabase(s, descs)
	if err != nil {
		t.Fatal(err)
	}

	if db.Free.Count != 10 {
		t.Fatalf("Free.Count = %d, want 10 (bootstrap region excluded)", db.Free.Count)
	}

	if db.Records[0].ListType != pfn.NotListed {
		t.Fatalf("bootstrap page ListType = %v, want NotListed", db.Records[0].ListType)
	}

	if db.Records[2048].ListType != pfn.ListFree {
		t.Fatalf("free page ListType = %v, want ListFree", db.Records[2048].ListType)
	}
}

func TestPopColorDrainsFreeList(t *testing.T) {
	t.Parallel()

	descs := []pfn.Descriptor{
		{BasePage: 0, PageCount: 2048, Type: pfn.TypeFree},
		{BasePage: 2048, PageCount: pfn.DefaultColors, Type: pfn.TypeFree},
	}

	s, err := pfn.Scan(descs, true)
	if err != nil {
		t.Fatal(err)
	}

	db, err := pfn.NewDatabase(s, descs)
	if err != nil {
		t.Fatal(err)
	}

	got := uint64(0)

	for color := 0; color < pfn.DefaultColors; color++ {
		if _, ok := db.PopColor(uint8(color)); ok {
			got++
		}
	}

	if got != pfn.DefaultColors {
		t.Fatalf("popped %d pages, want %d", got, pfn.DefaultColors)
	}

	if db.Free.Count != 0 {
		t.Fatalf("Free.Count = %d after draining, want 0", db.Free.Count)
	}

	if _, ok := db.PopColor(0); ok {
		t.Fatal("PopColor succeeded after list exhausted")
	}
}
