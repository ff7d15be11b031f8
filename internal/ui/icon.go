package ui

import (
	"bytes"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
)

const iconSide = 32

var (
	iconOnce  sync.Once
	iconBytes []byte
	iconErr   error
)

// iconPNG renders the tray icon once: a filmstrip frame with sprocket holes.
func iconPNG() ([]byte, error) {
	iconOnce.Do(func() {
		iconBytes, iconErr = renderIcon(iconSide)
	})
	return iconBytes, iconErr
}

func renderIcon(side int) ([]byte, error) {
	strip := color.NRGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}
	holeColor := color.NRGBA{R: 0xf9, G: 0xfa, B: 0xfb, A: 0xff}
	frame := color.NRGBA{R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff}

	img := imaging.New(side, side, color.NRGBA{})
	margin := side / 8
	img = imaging.Paste(img, imaging.New(side, side-2*margin, strip), image.Pt(0, margin))

	hole := max(side/10, 1)
	for x := hole; x+hole <= side; x += 2 * hole {
		img = imaging.Paste(img, imaging.New(hole, hole, holeColor), image.Pt(x, margin+1))
		img = imaging.Paste(img, imaging.New(hole, hole, holeColor), image.Pt(x, side-margin-hole-1))
	}

	inset := margin + hole + 2
	img = imaging.Paste(img, imaging.New(side-2*margin, side-2*inset, frame), image.Pt(margin, inset))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
