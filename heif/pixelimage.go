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
	"image"
	"image/color"
)

// Colorspace of a pixel image.
type Colorspace int

const (
	ColorspaceUndefined Colorspace = iota
	ColorspaceYCbCr
	ColorspaceRGB
	ColorspaceMonochrome
)

// Chroma subsampling of a pixel image.
type Chroma int

const (
	ChromaUndefined Chroma = iota
	ChromaMonochrome
	Chroma420
	Chroma422
	Chroma444
)

// Channel identifies one plane of a pixel image.
type Channel int

const (
	ChannelY Channel = iota
	ChannelCb
	ChannelCr
	ChannelR
	ChannelG
	ChannelB
	ChannelAlpha
)

var channelOrder = []Channel{
	ChannelY, ChannelCb, ChannelCr, ChannelR, ChannelG, ChannelB, ChannelAlpha,
}

type plane struct {
	width, height int
	stride        int
	bitDepth      int
	data          []byte
}

// PixelImage is a planar pixel buffer. Only 8 bits per sample are
// currently supported.
type PixelImage struct {
	width, height int
	colorspace    Colorspace
	chroma        Chroma
	planes        map[Channel]*plane
}

// NewPixelImage creates an empty image; planes are added with AddPlane.
func NewPixelImage(width, height int, colorspace Colorspace, chroma Chroma) *PixelImage {
	return &PixelImage{
		width:      width,
		height:     height,
		colorspace: colorspace,
		chroma:     chroma,
		planes:     make(map[Channel]*plane),
	}
}

func (p *PixelImage) Width() int             { return p.width }
func (p *PixelImage) Height() int            { return p.height }
func (p *PixelImage) Colorspace() Colorspace { return p.colorspace }
func (p *PixelImage) ChromaFormat() Chroma   { return p.chroma }

// AddPlane allocates a plane for the given channel.
func (p *PixelImage) AddPlane(ch Channel, width, height, bitDepth int) error {
	if bitDepth != 8 {
		return unsupported(SuberrorUnspecified, "bit depth %d is not supported", bitDepth)
	}
	p.planes[ch] = &plane{
		width:    width,
		height:   height,
		stride:   width,
		bitDepth: bitDepth,
		data:     make([]byte, width*height),
	}
	return nil
}

// HasChannel reports whether the image carries a plane for ch.
func (p *PixelImage) HasChannel(ch Channel) bool {
	_, ok := p.planes[ch]
	return ok
}

// Plane returns the sample data and row stride of a channel.
func (p *PixelImage) Plane(ch Channel) (data []byte, stride int, ok bool) {
	pl, ok := p.planes[ch]
	if !ok {
		return nil, 0, false
	}
	return pl.data, pl.stride, true
}

// ChannelSize returns the dimensions of one plane.
func (p *PixelImage) ChannelSize(ch Channel) (width, height int, ok bool) {
	pl, ok := p.planes[ch]
	if !ok {
		return 0, 0, false
	}
	return pl.width, pl.height, true
}

func (p *PixelImage) channels() []Channel {
	var chs []Channel
	for _, ch := range channelOrder {
		if _, ok := p.planes[ch]; ok {
			chs = append(chs, ch)
		}
	}
	return chs
}

// RotateCCW returns a copy rotated counter-clockwise by angle degrees
// (0, 90, 180 or 270).
func (p *PixelImage) RotateCCW(angle int) (*PixelImage, error) {
	angle %= 360
	if angle < 0 {
		angle += 360
	}
	if angle%90 != 0 {
		return nil, unsupported(SuberrorUnspecified, "rotation by %d degrees", angle)
	}
	if angle == 0 {
		return p, nil
	}

	outW, outH := p.width, p.height
	if angle == 90 || angle == 270 {
		outW, outH = p.height, p.width
	}
	out := NewPixelImage(outW, outH, p.colorspace, p.chroma)

	for _, ch := range p.channels() {
		pl := p.planes[ch]
		w, h := pl.width, pl.height
		ow, oh := w, h
		if angle == 90 || angle == 270 {
			ow, oh = h, w
		}
		if err := out.AddPlane(ch, ow, oh, pl.bitDepth); err != nil {
			return nil, err
		}
		opl := out.planes[ch]
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				var sx, sy int
				switch angle {
				case 90:
					sx, sy = w-1-y, x
				case 180:
					sx, sy = w-1-x, h-1-y
				case 270:
					sx, sy = y, h-1-x
				}
				opl.data[y*opl.stride+x] = pl.data[sy*pl.stride+sx]
			}
		}
	}
	return out, nil
}

// MirrorInplace flips the image left-right (horizontal == true) or
// top-bottom.
func (p *PixelImage) MirrorInplace(horizontal bool) error {
	for _, ch := range p.channels() {
		pl := p.planes[ch]
		if horizontal {
			for y := 0; y < pl.height; y++ {
				row := pl.data[y*pl.stride : y*pl.stride+pl.width]
				for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
					row[i], row[j] = row[j], row[i]
				}
			}
		} else {
			tmp := make([]byte, pl.width)
			for i, j := 0, pl.height-1; i < j; i, j = i+1, j-1 {
				top := pl.data[i*pl.stride : i*pl.stride+pl.width]
				bottom := pl.data[j*pl.stride : j*pl.stride+pl.width]
				copy(tmp, top)
				copy(top, bottom)
				copy(bottom, tmp)
			}
		}
	}
	return nil
}

// Crop returns the sub-image covering columns left..right and rows
// top..bottom, all bounds inclusive. Subsampled planes are cropped at
// the correspondingly scaled coordinates.
func (p *PixelImage) Crop(left, right, top, bottom int) (*PixelImage, error) {
	if left < 0 || top < 0 || right >= p.width || bottom >= p.height ||
		left > right || top > bottom {
		return nil, invalidInput(SuberrorInvalidCleanAperture,
			"crop rectangle (%d..%d, %d..%d) outside image %dx%d",
			left, right, top, bottom, p.width, p.height)
	}

	out := NewPixelImage(right-left+1, bottom-top+1, p.colorspace, p.chroma)
	for _, ch := range p.channels() {
		pl := p.planes[ch]
		sx, sy := subsampling(p.width, p.height, pl)
		l, t := left/sx, top/sy
		w, h := (right-left)/sx+1, (bottom-top)/sy+1
		if l+w > pl.width {
			w = pl.width - l
		}
		if t+h > pl.height {
			h = pl.height - t
		}
		if err := out.AddPlane(ch, w, h, pl.bitDepth); err != nil {
			return nil, err
		}
		opl := out.planes[ch]
		for y := 0; y < h; y++ {
			copy(opl.data[y*opl.stride:y*opl.stride+w],
				pl.data[(t+y)*pl.stride+l:(t+y)*pl.stride+l+w])
		}
	}
	return out, nil
}

// FillRGB16 fills the R, G, B (and Alpha, if present) planes with a
// 16-bit-per-component color, truncated to the plane bit depth.
func (p *PixelImage) FillRGB16(r, g, b, a uint16) error {
	vals := map[Channel]byte{
		ChannelR:     byte(r >> 8),
		ChannelG:     byte(g >> 8),
		ChannelB:     byte(b >> 8),
		ChannelAlpha: byte(a >> 8),
	}
	for ch, v := range vals {
		pl, ok := p.planes[ch]
		if !ok {
			if ch == ChannelAlpha {
				continue
			}
			return usageError(SuberrorUnspecified, "fill color on image without RGB planes")
		}
		for i := range pl.data {
			pl.data[i] = v
		}
	}
	return nil
}

// Overlay composites other onto p at the signed offset (dx, dy),
// clipping to the canvas. An image placed entirely outside the canvas
// yields an overlay-outside-of-canvas error.
func (p *PixelImage) Overlay(other *PixelImage, dx, dy int) error {
	if other.width+dx <= 0 || other.height+dy <= 0 ||
		dx >= p.width || dy >= p.height {
		return invalidInput(SuberrorOverlayImageOutsideOfCanvas,
			"overlay image at (%d,%d) is entirely outside the canvas", dx, dy)
	}

	for _, ch := range other.channels() {
		src := other.planes[ch]
		dst, ok := p.planes[ch]
		if !ok {
			continue
		}
		srcX0, srcY0 := 0, 0
		dstX0, dstY0 := dx, dy
		if dstX0 < 0 {
			srcX0, dstX0 = -dstX0, 0
		}
		if dstY0 < 0 {
			srcY0, dstY0 = -dstY0, 0
		}
		w := min(src.width-srcX0, dst.width-dstX0)
		h := min(src.height-srcY0, dst.height-dstY0)
		for y := 0; y < h; y++ {
			copy(dst.data[(dstY0+y)*dst.stride+dstX0:(dstY0+y)*dst.stride+dstX0+w],
				src.data[(srcY0+y)*src.stride+srcX0:(srcY0+y)*src.stride+srcX0+w])
		}
	}
	return nil
}

// TransferPlaneFrom copies a plane of src into this image under a new
// channel identity, e.g. an alpha image's luma plane into the Alpha
// channel of its master.
func (p *PixelImage) TransferPlaneFrom(src *PixelImage, srcCh, dstCh Channel) error {
	pl, ok := src.planes[srcCh]
	if !ok {
		return usageError(SuberrorUnspecified, "source image has no channel %d", srcCh)
	}
	cp := *pl
	cp.data = make([]byte, len(pl.data))
	copy(cp.data, pl.data)
	p.planes[dstCh] = &cp
	return nil
}

// ConvertColorspace returns the image converted to the requested
// colorspace and chroma. Undefined targets preserve the source value.
func (p *PixelImage) ConvertColorspace(cs Colorspace, chroma Chroma) (*PixelImage, error) {
	if cs == ColorspaceUndefined {
		cs = p.colorspace
	}
	if chroma == ChromaUndefined {
		chroma = p.chroma
	}
	if cs == p.colorspace && chroma == p.chroma {
		return p, nil
	}

	switch {
	case cs == ColorspaceRGB && chroma == Chroma444 &&
		(p.colorspace == ColorspaceYCbCr || p.colorspace == ColorspaceMonochrome):
		return p.toRGB444()
	case cs == ColorspaceYCbCr && chroma == Chroma444 &&
		p.colorspace == ColorspaceRGB && p.chroma == Chroma444:
		return p.toYCbCr444()
	}
	return nil, unsupported(SuberrorUnsupportedColorConversion,
		"conversion from colorspace %d chroma %d to %d/%d", p.colorspace, p.chroma, cs, chroma)
}

func (p *PixelImage) toRGB444() (*PixelImage, error) {
	yp, ok := p.planes[ChannelY]
	if !ok {
		return nil, usageError(SuberrorUnspecified, "conversion source has no Y plane")
	}
	cb, hasCb := p.planes[ChannelCb]
	cr, hasCr := p.planes[ChannelCr]

	out := NewPixelImage(p.width, p.height, ColorspaceRGB, Chroma444)
	for _, ch := range []Channel{ChannelR, ChannelG, ChannelB} {
		if err := out.AddPlane(ch, p.width, p.height, 8); err != nil {
			return nil, err
		}
	}
	rp, gp, bp := out.planes[ChannelR], out.planes[ChannelG], out.planes[ChannelB]

	var csx, csy int
	if hasCb {
		csx, csy = subsampling(p.width, p.height, cb)
	}
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			yy := yp.data[y*yp.stride+x]
			cbv, crv := byte(128), byte(128)
			if hasCb && hasCr {
				cbv = cb.data[(y/csy)*cb.stride+x/csx]
				crv = cr.data[(y/csy)*cr.stride+x/csx]
			}
			r, g, b := color.YCbCrToRGB(yy, cbv, crv)
			rp.data[y*rp.stride+x] = r
			gp.data[y*gp.stride+x] = g
			bp.data[y*bp.stride+x] = b
		}
	}
	if ap, ok := p.planes[ChannelAlpha]; ok && ap.width == p.width && ap.height == p.height {
		out.TransferPlaneFrom(p, ChannelAlpha, ChannelAlpha)
	}
	return out, nil
}

func (p *PixelImage) toYCbCr444() (*PixelImage, error) {
	rp, okR := p.planes[ChannelR]
	gp, okG := p.planes[ChannelG]
	bp, okB := p.planes[ChannelB]
	if !okR || !okG || !okB {
		return nil, usageError(SuberrorUnspecified, "conversion source lacks RGB planes")
	}

	out := NewPixelImage(p.width, p.height, ColorspaceYCbCr, Chroma444)
	for _, ch := range []Channel{ChannelY, ChannelCb, ChannelCr} {
		if err := out.AddPlane(ch, p.width, p.height, 8); err != nil {
			return nil, err
		}
	}
	yp, cb, cr := out.planes[ChannelY], out.planes[ChannelCb], out.planes[ChannelCr]
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			i := y*rp.stride + x
			yy, cbv, crv := color.RGBToYCbCr(rp.data[i], gp.data[i], bp.data[i])
			yp.data[y*yp.stride+x] = yy
			cb.data[y*cb.stride+x] = cbv
			cr.data[y*cr.stride+x] = crv
		}
	}
	if _, ok := p.planes[ChannelAlpha]; ok {
		out.TransferPlaneFrom(p, ChannelAlpha, ChannelAlpha)
	}
	return out, nil
}

// ScaleNearestNeighbor returns the image scaled to width x height.
func (p *PixelImage) ScaleNearestNeighbor(width, height int) (*PixelImage, error) {
	if width <= 0 || height <= 0 {
		return nil, usageError(SuberrorUnspecified, "invalid scale target %dx%d", width, height)
	}
	out := NewPixelImage(width, height, p.colorspace, p.chroma)
	for _, ch := range p.channels() {
		pl := p.planes[ch]
		sx, sy := subsampling(p.width, p.height, pl)
		ow, oh := width/sx, height/sy
		if ow == 0 {
			ow = 1
		}
		if oh == 0 {
			oh = 1
		}
		if err := out.AddPlane(ch, ow, oh, pl.bitDepth); err != nil {
			return nil, err
		}
		opl := out.planes[ch]
		for y := 0; y < oh; y++ {
			srcY := y * pl.height / oh
			for x := 0; x < ow; x++ {
				srcX := x * pl.width / ow
				opl.data[y*opl.stride+x] = pl.data[srcY*pl.stride+srcX]
			}
		}
	}
	return out, nil
}

// ToImage converts the planar image into a standard library image.
func (p *PixelImage) ToImage() (image.Image, error) {
	rect := image.Rect(0, 0, p.width, p.height)

	switch p.colorspace {
	case ColorspaceYCbCr:
		var ratio image.YCbCrSubsampleRatio
		switch p.chroma {
		case Chroma420:
			ratio = image.YCbCrSubsampleRatio420
		case Chroma422:
			ratio = image.YCbCrSubsampleRatio422
		case Chroma444:
			ratio = image.YCbCrSubsampleRatio444
		default:
			return nil, unsupported(SuberrorUnsupportedColorConversion, "chroma format %d", p.chroma)
		}
		out := image.NewYCbCr(rect, ratio)
		copyPlane(out.Y, out.YStride, p.planes[ChannelY])
		copyPlane(out.Cb, out.CStride, p.planes[ChannelCb])
		copyPlane(out.Cr, out.CStride, p.planes[ChannelCr])
		return out, nil

	case ColorspaceRGB:
		rp, gp, bp := p.planes[ChannelR], p.planes[ChannelG], p.planes[ChannelB]
		if rp == nil || gp == nil || bp == nil {
			return nil, usageError(SuberrorUnspecified, "RGB image lacks planes")
		}
		ap := p.planes[ChannelAlpha]
		out := image.NewRGBA(rect)
		for y := 0; y < p.height; y++ {
			for x := 0; x < p.width; x++ {
				i := out.PixOffset(x, y)
				out.Pix[i+0] = rp.data[y*rp.stride+x]
				out.Pix[i+1] = gp.data[y*gp.stride+x]
				out.Pix[i+2] = bp.data[y*bp.stride+x]
				if ap != nil {
					out.Pix[i+3] = ap.data[y*ap.stride+x]
				} else {
					out.Pix[i+3] = 0xff
				}
			}
		}
		return out, nil

	case ColorspaceMonochrome:
		yp := p.planes[ChannelY]
		if yp == nil {
			return nil, usageError(SuberrorUnspecified, "monochrome image lacks Y plane")
		}
		out := image.NewGray(rect)
		copyPlane(out.Pix, out.Stride, yp)
		return out, nil
	}
	return nil, unsupported(SuberrorUnsupportedColorConversion, "colorspace %d", p.colorspace)
}

func copyPlane(dst []byte, dstStride int, pl *plane) {
	if pl == nil {
		return
	}
	for y := 0; y < pl.height; y++ {
		copy(dst[y*dstStride:y*dstStride+pl.width],
			pl.data[y*pl.stride:y*pl.stride+pl.width])
	}
}

// subsampling returns the horizontal and vertical subsampling factors
// of a plane relative to the image dimensions.
func subsampling(imageW, imageH int, pl *plane) (sx, sy int) {
	sx, sy = 1, 1
	if pl.width > 0 && pl.width < imageW {
		sx = imageW / pl.width
	}
	if pl.height > 0 && pl.height < imageH {
		sy = imageH / pl.height
	}
	return sx, sy
}
