/*
Copyright 2018 The go4 Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package heif

import (
	"errors"
	"image"
	"testing"

	qt "github.com/frankban/quicktest"
)

// gradientImage builds a monochrome-plane test image whose Y samples
// encode their own coordinates, so geometry transforms are checkable.
func gradientImage(w, h int) *PixelImage {
	img := NewPixelImage(w, h, ColorspaceMonochrome, ChromaMonochrome)
	img.AddPlane(ChannelY, w, h, 8)
	data, stride, _ := img.Plane(ChannelY)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*stride+x] = byte(16*y + x)
		}
	}
	return img
}

func TestRotateCCW(t *testing.T) {
	c := qt.New(t)
	img := gradientImage(4, 2) // values 0..3, 16..19

	c.Run("90", func(c *qt.C) {
		out, err := img.RotateCCW(90)
		c.Assert(err, qt.IsNil)
		c.Assert(out.Width(), qt.Equals, 2)
		c.Assert(out.Height(), qt.Equals, 4)
		// the right column becomes the top row
		c.Assert(planeAt(t, out, ChannelY, 0, 0), qt.Equals, byte(3))
		c.Assert(planeAt(t, out, ChannelY, 1, 0), qt.Equals, byte(19))
		c.Assert(planeAt(t, out, ChannelY, 0, 3), qt.Equals, byte(0))
	})

	c.Run("180", func(c *qt.C) {
		out, err := img.RotateCCW(180)
		c.Assert(err, qt.IsNil)
		c.Assert(planeAt(t, out, ChannelY, 0, 0), qt.Equals, byte(19))
		c.Assert(planeAt(t, out, ChannelY, 3, 1), qt.Equals, byte(0))
	})

	c.Run("270", func(c *qt.C) {
		out, err := img.RotateCCW(270)
		c.Assert(err, qt.IsNil)
		// the left column becomes the top row
		c.Assert(planeAt(t, out, ChannelY, 0, 0), qt.Equals, byte(16))
		c.Assert(planeAt(t, out, ChannelY, 1, 0), qt.Equals, byte(0))
	})

	c.Run("inverse composition restores the image", func(c *qt.C) {
		once, err := img.RotateCCW(90)
		c.Assert(err, qt.IsNil)
		back, err := once.RotateCCW(270)
		c.Assert(err, qt.IsNil)
		c.Assert(back.Width(), qt.Equals, img.Width())
		c.Assert(back.Height(), qt.Equals, img.Height())
		want, _, _ := img.Plane(ChannelY)
		got, _, _ := back.Plane(ChannelY)
		c.Assert(got, qt.DeepEquals, want)
	})
}

func TestMirrorInplace(t *testing.T) {
	c := qt.New(t)

	c.Run("horizontal", func(c *qt.C) {
		img := gradientImage(4, 2)
		c.Assert(img.MirrorInplace(true), qt.IsNil)
		c.Assert(planeAt(t, img, ChannelY, 0, 0), qt.Equals, byte(3))
		c.Assert(planeAt(t, img, ChannelY, 3, 0), qt.Equals, byte(0))
	})

	c.Run("vertical", func(c *qt.C) {
		img := gradientImage(4, 2)
		c.Assert(img.MirrorInplace(false), qt.IsNil)
		c.Assert(planeAt(t, img, ChannelY, 0, 0), qt.Equals, byte(16))
		c.Assert(planeAt(t, img, ChannelY, 0, 1), qt.Equals, byte(0))
	})
}

func TestCrop(t *testing.T) {
	c := qt.New(t)
	img := gradientImage(8, 4)

	out, err := img.Crop(2, 5, 1, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(out.Width(), qt.Equals, 4)
	c.Assert(out.Height(), qt.Equals, 2)
	c.Assert(planeAt(t, out, ChannelY, 0, 0), qt.Equals, byte(18))
	c.Assert(planeAt(t, out, ChannelY, 3, 1), qt.Equals, byte(37))

	_, err = img.Crop(5, 2, 0, 0)
	c.Assert(err, qt.Not(qt.IsNil))
	_, err = img.Crop(0, 8, 0, 0)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestCropSubsampledPlanes(t *testing.T) {
	c := qt.New(t)
	img := NewPixelImage(8, 8, ColorspaceYCbCr, Chroma420)
	img.AddPlane(ChannelY, 8, 8, 8)
	img.AddPlane(ChannelCb, 4, 4, 8)
	img.AddPlane(ChannelCr, 4, 4, 8)

	out, err := img.Crop(2, 5, 2, 5)
	c.Assert(err, qt.IsNil)
	w, h, _ := out.ChannelSize(ChannelCb)
	c.Assert(w, qt.Equals, 2)
	c.Assert(h, qt.Equals, 2)
}

func TestOverlayBounds(t *testing.T) {
	c := qt.New(t)
	canvas := NewPixelImage(4, 4, ColorspaceRGB, Chroma444)
	for _, ch := range []Channel{ChannelR, ChannelG, ChannelB} {
		canvas.AddPlane(ch, 4, 4, 8)
	}
	small := NewPixelImage(2, 2, ColorspaceRGB, Chroma444)
	for _, ch := range []Channel{ChannelR, ChannelG, ChannelB} {
		small.AddPlane(ch, 2, 2, 8)
	}
	small.FillRGB16(0xFF00, 0xFF00, 0xFF00, 0)

	c.Assert(canvas.Overlay(small, 3, 3), qt.IsNil)
	c.Assert(planeAt(t, canvas, ChannelR, 3, 3), qt.Equals, byte(0xFF))
	c.Assert(planeAt(t, canvas, ChannelR, 2, 2), qt.Equals, byte(0))

	err := canvas.Overlay(small, 4, 0)
	c.Assert(errors.Is(err, Error{Code: CodeInvalidInput, Sub: SuberrorOverlayImageOutsideOfCanvas}),
		qt.Equals, true)
	err = canvas.Overlay(small, 0, -2)
	c.Assert(errors.Is(err, Error{Code: CodeInvalidInput, Sub: SuberrorOverlayImageOutsideOfCanvas}),
		qt.Equals, true)
}

func TestScaleNearestNeighbor(t *testing.T) {
	c := qt.New(t)
	img := gradientImage(4, 4)
	out, err := img.ScaleNearestNeighbor(8, 8)
	c.Assert(err, qt.IsNil)
	c.Assert(out.Width(), qt.Equals, 8)
	c.Assert(planeAt(t, out, ChannelY, 0, 0), qt.Equals, byte(0))
	c.Assert(planeAt(t, out, ChannelY, 7, 7), qt.Equals, byte(16*3+3))

	_, err = img.ScaleNearestNeighbor(0, 8)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestConvertColorspaceRoundTrip(t *testing.T) {
	c := qt.New(t)
	img := NewPixelImage(2, 2, ColorspaceYCbCr, Chroma444)
	for _, ch := range []Channel{ChannelY, ChannelCb, ChannelCr} {
		img.AddPlane(ch, 2, 2, 8)
	}
	y, _, _ := img.Plane(ChannelY)
	cb, _, _ := img.Plane(ChannelCb)
	cr, _, _ := img.Plane(ChannelCr)
	for i := range y {
		y[i], cb[i], cr[i] = 120, 128, 128
	}

	rgb, err := img.ConvertColorspace(ColorspaceRGB, Chroma444)
	c.Assert(err, qt.IsNil)
	c.Assert(planeAt(t, rgb, ChannelR, 0, 0), qt.Equals, byte(120))

	back, err := rgb.ConvertColorspace(ColorspaceYCbCr, Chroma444)
	c.Assert(err, qt.IsNil)
	c.Assert(planeAt(t, back, ChannelY, 0, 0), qt.Equals, byte(120))

	_, err = img.ConvertColorspace(ColorspaceMonochrome, ChromaMonochrome)
	c.Assert(errors.Is(err, Error{Code: CodeUnsupportedFeature, Sub: SuberrorUnsupportedColorConversion}),
		qt.Equals, true)
}

func TestConvertUndefinedPreservesSource(t *testing.T) {
	c := qt.New(t)
	img := gradientImage(2, 2)
	out, err := img.ConvertColorspace(ColorspaceUndefined, ChromaUndefined)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, img)
}

func TestToImage(t *testing.T) {
	c := qt.New(t)

	c.Run("YCbCr", func(c *qt.C) {
		img := NewPixelImage(4, 4, ColorspaceYCbCr, Chroma420)
		img.AddPlane(ChannelY, 4, 4, 8)
		img.AddPlane(ChannelCb, 2, 2, 8)
		img.AddPlane(ChannelCr, 2, 2, 8)
		got, err := img.ToImage()
		c.Assert(err, qt.IsNil)
		ycc, ok := got.(*image.YCbCr)
		c.Assert(ok, qt.Equals, true)
		c.Assert(ycc.SubsampleRatio, qt.Equals, image.YCbCrSubsampleRatio420)
		c.Assert(ycc.Bounds().Dx(), qt.Equals, 4)
	})

	c.Run("RGB with alpha", func(c *qt.C) {
		img := NewPixelImage(2, 1, ColorspaceRGB, Chroma444)
		for _, ch := range []Channel{ChannelR, ChannelG, ChannelB, ChannelAlpha} {
			img.AddPlane(ch, 2, 1, 8)
		}
		img.FillRGB16(0xAA00, 0xBB00, 0xCC00, 0x4000)
		got, err := img.ToImage()
		c.Assert(err, qt.IsNil)
		rgba, ok := got.(*image.RGBA)
		c.Assert(ok, qt.Equals, true)
		c.Assert(rgba.Pix[0], qt.Equals, byte(0xAA))
		c.Assert(rgba.Pix[1], qt.Equals, byte(0xBB))
		c.Assert(rgba.Pix[2], qt.Equals, byte(0xCC))
		c.Assert(rgba.Pix[3], qt.Equals, byte(0x40))
	})

	c.Run("monochrome", func(c *qt.C) {
		img := gradientImage(2, 2)
		got, err := img.ToImage()
		c.Assert(err, qt.IsNil)
		_, ok := got.(*image.Gray)
		c.Assert(ok, qt.Equals, true)
	})
}
