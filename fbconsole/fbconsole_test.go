package fbconsole_test

import (
	"testing"

	"github.com/xtboot/xtkernel/fbconsole"
)

func xrgbFormat() fbconsole.PixelFormat {
	return fbconsole.PixelFormat{
		RedShift: 16, RedSize: 8,
		GreenShift: 8, GreenSize: 8,
		BlueShift: 0, BlueSize: 8,
	}
}

func newFB(t *testing.T, width, height, pitch uint32) *fbconsole.Framebuffer {
	t.Helper()

	mem := make([]byte, pitch*height)

	fb, err := fbconsole.New(mem, width, height, 32, pitch, xrgbFormat())
	if err != nil {
		t.Fatal(err)
	}

	return fb
}

func TestDrawPixelOutOfBounds(t *testing.T) {
	t.Parallel()

	fb := newFB(t, 4, 4, 16)

	if err := fb.DrawPixel(-1, 0, 0xFFFFFF); err == nil {
		t.Fatal("expected ErrOutOfBounds for negative x")
	}

	if err := fb.DrawPixel(4, 0, 0xFFFFFF); err == nil {
		t.Fatal("expected ErrOutOfBounds for x == width")
	}
}

func TestClearScreenFillsEveryPixel(t *testing.T) {
	t.Parallel()

	fb := newFB(t, 4, 4, 16)

	fb.ClearScreen(0x00123456)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			px, err := readPixel(fb, x, y)
			if err != nil {
				t.Fatal(err)
			}

			if px != 0x123456 {
				t.Fatalf("pixel (%d,%d) = %#x, want %#x", x, y, px, 0x123456)
			}
		}
	}
}

func readPixel(fb *fbconsole.Framebuffer, x, y int) (uint32, error) {
	return fb.ReadPixel(x, y)
}

func TestFramebufferCharacterRenderingScenario(t *testing.T) {
	t.Parallel()

	const width, height, pitch = 1024, 768, 4096

	fb := newFB(t, width, height, pitch)

	if err := fb.PutChar(fbconsole.DefaultFont, 0, 0, 'A', 0x00FFFFFF); err != nil {
		t.Fatal(err)
	}

	// The embedded 8x8 'A' bitmap, MSB-first per row.
	bitmap := []byte{0x18, 0x3C, 0x66, 0x66, 0x7E, 0x66, 0x66, 0x00}

	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			want := bitmap[row]&(1<<(7-uint(col))) != 0

			px, err := readPixel(fb, col, row)
			if err != nil {
				t.Fatal(err)
			}

			got := px == 0xFFFFFF

			if got != want {
				t.Fatalf("pixel (%d,%d): got set=%v, want set=%v", col, row, got, want)
			}
		}
	}

	// Nothing outside the 8x8 bounding box was touched.
	px, err := readPixel(fb, 8, 0)
	if err != nil {
		t.Fatal(err)
	}

	if px != 0 {
		t.Fatalf("pixel (8,0) outside bounding box = %#x, want 0", px)
	}
}

func TestPutCharUnknownGlyph(t *testing.T) {
	t.Parallel()

	fb := newFB(t, 16, 16, 64)

	if err := fb.PutChar(fbconsole.DefaultFont, 0, 0, 'Z', 0xFFFFFF); err == nil {
		t.Fatal("expected ErrGlyphNotFound")
	}
}
