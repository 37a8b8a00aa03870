package fbconsole

import "fmt"

// Control bytes in an SSFN-style character table: a byte this large
// advances the codepoint cursor without a glyph; any other byte value
// is the fragment count for the glyph at the current codepoint.
const (
	ctrlSkip65535 = 0xFF
	ctrlSkip16128 = 0xFE
	ctrlSkip64    = 0xFD
)

// ErrGlyphNotFound is returned by PutChar when the font's character
// table has no entry for the requested codepoint.
var ErrGlyphNotFound = fmt.Errorf("fbconsole: glyph not found in font")

// ErrMalformedFont is returned when a fragment header or bitmap runs
// past the end of the font table.
var ErrMalformedFont = fmt.Errorf("fbconsole: malformed font table")

// DefaultFont is a minimal placeholder character table in this
// package's interpretation of the SSFN layout: one 8x8 glyph for 'A'
// (codepoint 0x41), reached by a skip-64 control byte followed by a
// zero-fragment entry for codepoint 64. A complete glyph set is out of
// scope (see package doc); this is enough to exercise the decode
// contract end to end.
var DefaultFont = []byte{
	ctrlSkip64, // cp 0 -> 64
	0x00,       // cp 64: zero fragments -> cp 65
	0x01,       // cp 65 ('A'): one fragment follows
	0x00, 0x07, // fragment header: width=(0+1)*8=8, height=7+1=8
	0x18, 0x3C, 0x66, 0x66, 0x7E, 0x66, 0x66, 0x00, // 8x8 bitmap, MSB-first
}

// findGlyph scans table's control-byte-delimited codepoint sequence
// for target, returning the byte offset of its fragment count and the
// fragment count itself.
func findGlyph(table []byte, target rune) (fragsAt int, nFrag int, ok bool) {
	pos := 0
	cp := rune(0)

	for pos < len(table) {
		ctrl := table[pos]
		pos++

		switch ctrl {
		case ctrlSkip65535:
			cp += 65535
		case ctrlSkip16128:
			cp += 16128
		case ctrlSkip64:
			cp += 64
		default:
			if cp == target {
				return pos, int(ctrl), true
			}

			var err error
			if pos, err = skipFragments(table, pos, int(ctrl)); err != nil {
				return 0, 0, false
			}

			cp++
		}

		if cp > target {
			return 0, 0, false
		}
	}

	return 0, 0, false
}

// skipFragments advances pos past n fragment headers and bitmaps.
func skipFragments(table []byte, pos, n int) (int, error) {
	for i := 0; i < n; i++ {
		if pos+2 > len(table) {
			return 0, ErrMalformedFont
		}

		width, height := fragmentDims(table[pos], table[pos+1])
		pos += 2 + bitmapBytes(width, height)
	}

	return pos, nil
}

// fragmentDims decodes a fragment header per spec.md §4.2: glyph width
// is (top 5 bits of the first byte + 1) x 8, height is the second byte
// + 1.
func fragmentDims(widthByte, heightByte byte) (width, height int) {
	width = (int(widthByte>>3) + 1) * 8
	height = int(heightByte) + 1

	return width, height
}

func bitmapBytes(width, height int) int {
	return ((width + 7) / 8) * height
}

// PutChar paints r's glyph from font at (x0, y0) in color, walking
// every kerning fragment and, for each set bit in its bitmap, painting
// one pixel at the corresponding glyph offset. Pixels outside the
// viewport are silently skipped rather than erroring, since a glyph
// drawn near an edge legitimately clips.
func (f *Framebuffer) PutChar(font []byte, x0, y0 int, r rune, color uint32) error {
	fragsAt, nFrag, ok := findGlyph(font, r)
	if !ok {
		return ErrGlyphNotFound
	}

	packed := f.packColor(color)
	pos := fragsAt

	for i := 0; i < nFrag; i++ {
		if pos+2 > len(font) {
			return ErrMalformedFont
		}

		width, height := fragmentDims(font[pos], font[pos+1])
		pos += 2

		rowBytes := (width + 7) / 8
		if pos+rowBytes*height > len(font) {
			return ErrMalformedFont
		}

		for row := 0; row < height; row++ {
			for col := 0; col < width; col++ {
				byteIdx := pos + row*rowBytes + col/8
				bit := 7 - uint(col%8)

				if font[byteIdx]&(1<<bit) == 0 {
					continue
				}

				x, y := x0+col, y0+row
				if f.inBounds(x, y) {
					f.drawPixelRaw(x, y, packed)
				}
			}
		}

		pos += rowBytes * height
	}

	return nil
}
