package pfn

import "fmt"

// ListEnd is the sentinel terminator for every list head and link in the
// database, spec.md §4.5's MAXULONG_PTR.
const ListEnd = ^uint64(0)

// DefaultColors is the default count of per-color secondary free lists
// spec.md §4.5 specifies, used to spread free pages across cache colors
// and reduce conflict misses.
const DefaultColors = 64

// ListType names one of the six canonical PFN lists, or NotListed for a
// record that belongs to no list (currently allocated, or reserved as
// part of the bootstrap region).
type ListType uint8

const (
	ListZeroed ListType = iota
	ListFree
	ListStandby
	ListModified
	ListModifiedNoWrite
	ListBad
	NotListed
)

// Flags are the single-bit sub-fields of spec.md §4.5's "entire frame"
// word.
type Flags struct {
	InPageError      bool
	VerifierAlloc    bool
	AWEAlloc         bool
	LockCharged      bool
	KernelStack      bool
	MustBeCached     bool
}

// Record is one MMPFN-style per-page bookkeeping entry. Where spec.md
// §4.5 describes a union of mutually-exclusive fields (forward
// link/WS-index/event pointer/read-status/next-stack-pfn; backward
// link/share-count), this keeps them as separate named fields rather
// than reproducing a C union — ListType and the list the record is
// currently on determine which fields are meaningful.
type Record struct {
	Flink, Blink uint64
	ListType     ListType
	PTEAddress   uint64
	ShareCount   uint32
	Color        uint8
	OriginalPTE  uint64
	Flags        Flags
}

// listHead is one of the six canonical lists: a head/tail pair plus a
// page count, threaded through Record.Flink/Blink by PFN index.
type listHead struct {
	Type  ListType
	Head  uint64
	Tail  uint64
	Count uint64
}

func newListHead(t ListType) listHead {
	return listHead{Type: t, Head: ListEnd, Tail: ListEnd}
}

// Database is the PFN database for one contiguous physical page range
// [Lowest, Highest]: one Record per page, the six canonical list heads,
// and DefaultColors per-color free lists.
type Database struct {
	Lowest, Highest uint64
	Records         []Record

	Zeroed, Free, Standby, Modified, ModifiedNoWrite, Bad listHead

	ColorFree []listHead // len == DefaultColors, each a sub-list of Free
}

// ErrPageOutOfRange is returned by any Database method given a physical
// page number outside [Lowest, Highest].
var ErrPageOutOfRange = fmt.Errorf("physical page out of database range")

func (db *Database) index(page uint64) (int, error) {
	if page < db.Lowest || page > db.Highest {
		return 0, ErrPageOutOfRange
	}

	return int(page - db.Lowest), nil
}

// NewDatabase allocates one Record per page between summary.LowestPage
// and summary.HighestPage inclusive, then, for every free descriptor
// other than the bootstrap region, links its pages onto the Free list
// (and the matching per-color sub-list). The bootstrap region's own
// pages are left off every list: they are handed out directly by the
// bootstrap allocator until the kernel later folds whatever remains back
// into the free lists.
func NewDatabase(summary Summary, descs []Descriptor) (*Database, error) {
	if summary.HighestPage < summary.LowestPage {
		return nil, fmt.Errorf("%w: empty page range", ErrPageOutOfRange)
	}

	n := summary.HighestPage - summary.LowestPage + 1

	db := &Database{
		Lowest:  summary.LowestPage,
		Highest: summary.HighestPage,
		Records: make([]Record, n),

		Zeroed:          newListHead(ListZeroed),
		Free:            newListHead(ListFree),
		Standby:         newListHead(ListStandby),
		Modified:        newListHead(ListModified),
		ModifiedNoWrite: newListHead(ListModifiedNoWrite),
		Bad:             newListHead(ListBad),

		ColorFree: make([]listHead, DefaultColors),
	}

	for i := range db.Records {
		db.Records[i] = Record{Flink: ListEnd, Blink: ListEnd, ListType: NotListed}
	}

	for i := range db.ColorFree {
		db.ColorFree[i] = newListHead(ListFree)
	}

	for _, d := range descs {
		if Classify(d.Type) != BucketFree {
			continue
		}

		if d == summary.Bootstrap {
			continue
		}

		for page := d.BasePage; page < d.BasePage+d.PageCount; page++ {
			if err := db.pushFree(page); err != nil {
				return nil, err
			}
		}
	}

	return db, nil
}

// pushFree links page onto the tail of its color's free sub-list. The
// per-color lists are the physical storage; db.Free itself only tracks
// the aggregate type tag and count spec.md §4.5's "free" list head
// carries; a page is never linked into two chains through the same
// Flink/Blink pair at once.
func (db *Database) pushFree(page uint64) error {
	i, err := db.index(page)
	if err != nil {
		return err
	}

	color := uint8(page % DefaultColors)

	db.Records[i].ListType = ListFree
	db.Records[i].Color = color

	pushTail(&db.ColorFree[color], db.Records, page)
	db.Free.Count++

	return nil
}

// pushTail appends page to the tail of list, threading Flink/Blink
// through records by PFN index (offset by nothing here since callers
// pass the same index space the caller's Records slice uses).
func pushTail(list *listHead, records []Record, page uint64) {
	if list.Tail == ListEnd {
		list.Head = page
	} else {
		records[list.Tail].Flink = page
	}

	records[page].Blink = list.Tail
	records[page].Flink = ListEnd

	list.Tail = page
	list.Count++
}

// PopColor removes and returns one page from the given color's free
// sub-list (and the Free list proper), or ok=false if that color has no
// free pages.
func (db *Database) PopColor(color uint8) (page uint64, ok bool) {
	sub := &db.ColorFree[int(color)%DefaultColors]
	if sub.Head == ListEnd {
		return 0, false
	}

	page = sub.Head
	db.unlink(sub, page)
	db.Free.Count--

	db.Records[page].ListType = NotListed

	return page, true
}

// IsFree reports whether page is currently on the Free list (any color).
func (db *Database) IsFree(page uint64) bool {
	i, err := db.index(page)
	if err != nil {
		return false
	}

	return db.Records[i].ListType == ListFree
}

// Take removes a specific free page from its color sub-list, for callers
// (the loader's contiguous-range allocator) that need a particular page
// rather than whichever PopColor hands back next.
func (db *Database) Take(page uint64) error {
	i, err := db.index(page)
	if err != nil {
		return err
	}

	if db.Records[i].ListType != ListFree {
		return fmt.Errorf("loader: page %d is not free", page)
	}

	color := db.Records[i].Color
	db.unlink(&db.ColorFree[color], page)
	db.Free.Count--
	db.Records[i].ListType = NotListed

	return nil
}

// PushFree returns page to its color's free sub-list, the inverse of
// PopColor. page must currently be NotListed (allocated); pushing an
// already-listed page would corrupt whichever chain it is already on.
func (db *Database) PushFree(page uint64) error {
	i, err := db.index(page)
	if err != nil {
		return err
	}

	if db.Records[i].ListType != NotListed {
		return fmt.Errorf("loader: page %d is not allocated (list type %d)", page, db.Records[i].ListType)
	}

	return db.pushFree(page)
}

// unlink removes page from list, leaving its own Flink/Blink untouched
// for the caller to reset.
func (db *Database) unlink(list *listHead, page uint64) {
	rec := db.Records[page]

	if rec.Blink == ListEnd {
		list.Head = rec.Flink
	} else {
		db.Records[rec.Blink].Flink = rec.Flink
	}

	if rec.Flink == ListEnd {
		list.Tail = rec.Blink
	} else {
		db.Records[rec.Flink].Blink = rec.Blink
	}

	list.Count--
}
