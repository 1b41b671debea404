// Package trayicon renders the tray icons for the companion host. Icons are
// drawn at startup and wrapped in an ICO container for the Windows tray.
package trayicon

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
)

// Size is the edge length of the generated icons in pixels.
const Size = 32

var (
	runningColor  = color.NRGBA{R: 0x10, G: 0xB9, B: 0x81, A: 0xFF}
	stoppedColor  = color.NRGBA{R: 0x6B, G: 0x72, B: 0x80, A: 0xFF}
	externalColor = color.NRGBA{R: 0xF5, G: 0x9E, B: 0x0B, A: 0xFF}
	ringColor     = color.NRGBA{R: 0x00, G: 0xD4, B: 0xFF, A: 0xFF}
)

// State selects the icon variant.
type State int

const (
	Stopped State = iota
	Running
	External
)

// ICO returns the icon for state as ICO bytes.
func ICO(state State) []byte {
	fill := stoppedColor
	switch state {
	case Running:
		fill = runningColor
	case External:
		fill = externalColor
	}
	data, err := wrapICO(drawBadge(fill))
	if err != nil {
		return nil
	}
	return data
}

// drawBadge draws a filled disc with a contrasting ring.
func drawBadge(fill color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	center := float64(Size-1) / 2
	outer := float64(Size) / 2
	inner := outer - 3
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			d2 := dx*dx + dy*dy
			switch {
			case d2 <= inner*inner:
				img.SetNRGBA(x, y, fill)
			case d2 <= outer*outer:
				img.SetNRGBA(x, y, ringColor)
			}
		}
	}
	return img
}

// wrapICO stores img as a single PNG-compressed ICO entry.
func wrapICO(img image.Image) ([]byte, error) {
	var pngData bytes.Buffer
	if err := png.Encode(&pngData, img); err != nil {
		return nil, err
	}
	b := img.Bounds()

	var out bytes.Buffer
	// ICONDIR: reserved, type 1 (icon), one image
	_ = binary.Write(&out, binary.LittleEndian, [3]uint16{0, 1, 1})
	// ICONDIRENTRY; 0 width/height means 256
	out.WriteByte(byte(b.Dx() % 256))
	out.WriteByte(byte(b.Dy() % 256))
	out.WriteByte(0) // palette
	out.WriteByte(0) // reserved
	_ = binary.Write(&out, binary.LittleEndian, uint16(1))  // planes
	_ = binary.Write(&out, binary.LittleEndian, uint16(32)) // bpp
	_ = binary.Write(&out, binary.LittleEndian, uint32(pngData.Len()))
	_ = binary.Write(&out, binary.LittleEndian, uint32(6+16))
	out.Write(pngData.Bytes())
	return out.Bytes(), nil
}
