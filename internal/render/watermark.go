package render

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const watermarkOpacity = 0.45

// stampWatermark composites a fixed-position semi-transparent text
// label into the bottom-right corner. The label shrinks away rather
// than overflowing tiny thumbnails.
func stampWatermark(base *image.NRGBA, text string) *image.NRGBA {
	if text == "" {
		return base
	}

	face := basicfont.Face7x13
	textW := font.MeasureString(face, text).Ceil()
	labelW := textW + 12
	labelH := face.Metrics().Height.Ceil() + 8

	bounds := base.Bounds()
	if labelW >= bounds.Dx() || labelH >= bounds.Dy() {
		return base
	}

	label := image.NewNRGBA(image.Rect(0, 0, labelW, labelH))
	draw.Draw(label, label.Bounds(), image.NewUniform(color.NRGBA{0, 0, 0, 255}), image.Point{}, draw.Src)

	drawer := font.Drawer{
		Dst:  label,
		Src:  image.NewUniform(color.NRGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.P(6, labelH-6),
	}
	drawer.DrawString(text)

	pos := image.Pt(bounds.Dx()-labelW-8, bounds.Dy()-labelH-8)
	return imaging.Overlay(base, label, pos, watermarkOpacity)
}
