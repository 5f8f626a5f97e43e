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

	"github.com/T-bagwell/libheif/heif/bmff"
)

// DecodingOptions controls DecodeImage. The zero value decodes with
// transformations applied and preserves the source colorspace and
// chroma.
type DecodingOptions struct {
	IgnoreTransformations bool

	// Colorspace and Chroma select the target pixel format.
	// ColorspaceUndefined / ChromaUndefined preserve the source value.
	Colorspace Colorspace
	Chroma     Chroma
}

// DecodeImage decodes the image with the given identifier into a pixel
// image, assembling derived images (grids, overlays, identities) from
// their referenced tiles.
func (c *Context) DecodeImage(id uint32, options *DecodingOptions) (*PixelImage, error) {
	if _, ok := c.images[id]; !ok {
		return nil, usageError(SuberrorNonexistingImageID, "no image with ID %d", id)
	}
	if options == nil {
		options = &DecodingOptions{}
	}

	visited := make(map[uint32]bool)
	img, err := c.decodeImage(id, options, visited)
	if err != nil {
		return nil, err
	}

	return img.ConvertColorspace(options.Colorspace, options.Chroma)
}

// decodeImage is the recursive assembly loop. The visited set holds
// the current derivation chain to reject dimg cycles; an image may
// still be referenced twice by one overlay.
func (c *Context) decodeImage(id uint32, options *DecodingOptions, visited map[uint32]bool) (*PixelImage, error) {
	if visited[id] {
		return nil, invalidInput(SuberrorUnspecified,
			"circular derived-image reference through item %d", id)
	}
	visited[id] = true
	defer delete(visited, id)

	var img *PixelImage

	switch imageType := c.file.ItemType(id); imageType {
	case "hvc1":
		data, err := c.file.CompressedImageData(id)
		if err != nil {
			return nil, err
		}
		img, err = c.decodeCodedImage(CompressionHEVC, data)
		if err != nil {
			return nil, err
		}

	case "grid":
		data, err := c.file.CompressedImageData(id)
		if err != nil {
			return nil, err
		}
		img, err = c.decodeFullGridImage(id, data, visited)
		if err != nil {
			return nil, err
		}

	case "iden":
		var err error
		img, err = c.decodeDerivedImage(id, visited)
		if err != nil {
			return nil, err
		}

	case "iovl":
		data, err := c.file.CompressedImageData(id)
		if err != nil {
			return nil, err
		}
		img, err = c.decodeOverlayImage(id, data, visited)
		if err != nil {
			return nil, err
		}

	default:
		return nil, unsupported(SuberrorUnsupportedImageType, "item type %q", imageType)
	}

	// --- add the alpha channel, if one is attached

	if info := c.images[id]; info != nil && info.alphaChannel != nil {
		alpha, err := c.decodeImage(info.alphaChannel.id, &DecodingOptions{}, visited)
		if err != nil {
			return nil, err
		}
		if alpha.Width() != img.Width() || alpha.Height() != img.Height() {
			return nil, invalidInput(SuberrorUnspecified,
				"alpha channel size %dx%d does not match image size %dx%d",
				alpha.Width(), alpha.Height(), img.Width(), img.Height())
		}
		if err := img.TransferPlaneFrom(alpha, ChannelY, ChannelAlpha); err != nil {
			return nil, err
		}
	}

	// --- apply transformation properties in file order

	if !options.IgnoreTransformations {
		props, err := c.file.Properties(id)
		if err != nil {
			return nil, err
		}
		for _, prop := range props {
			switch v := prop.Box.(type) {
			case *bmff.ImageRotation:
				img, err = img.RotateCCW(int(v.Angle))
				if err != nil {
					return nil, err
				}

			case *bmff.ImageMirror:
				if err := img.MirrorInplace(v.Axis == bmff.MirrorAxisHorizontal); err != nil {
					return nil, err
				}

			case *bmff.CleanApertureBox:
				w, h := img.Width(), img.Height()
				left := v.LeftRounded(int32(w))
				right := v.RightRounded(int32(w))
				top := v.TopRounded(int32(h))
				bottom := v.BottomRounded(int32(h))

				if left < 0 {
					left = 0
				}
				if top < 0 {
					top = 0
				}
				if right >= int32(w) {
					right = int32(w) - 1
				}
				if bottom >= int32(h) {
					bottom = int32(h) - 1
				}
				if left >= right || top >= bottom {
					return nil, invalidInput(SuberrorInvalidCleanAperture,
						"clean aperture (%d..%d, %d..%d) is empty", left, right, top, bottom)
				}
				img, err = img.Crop(int(left), int(right), int(top), int(bottom))
				if err != nil {
					return nil, err
				}
			}
		}
	}

	return img, nil
}

// decodeCodedImage runs one coded payload through the best decoder
// plugin bidding on the compression format.
func (c *Context) decodeCodedImage(format CompressionFormat, data []byte) (*PixelImage, error) {
	plugin := c.decoder(format)
	if plugin == nil {
		return nil, unsupported(SuberrorUnsupportedCodec, "no decoder for compression format %d", format)
	}

	dec, err := plugin.NewDecoder()
	if err != nil {
		return nil, pluginError(err)
	}
	defer dec.Free()

	if err := dec.Push(data); err != nil {
		return nil, pluginError(err)
	}
	img, err := dec.DecodeImage()
	if err != nil {
		return nil, pluginError(err)
	}
	if img == nil {
		return nil, Error{Code: CodeDecoderPluginError, Sub: SuberrorUnspecified,
			Message: "decoder plugin returned no image"}
	}
	return img, nil
}

func pluginError(err error) error {
	var he Error
	if errors.As(err, &he) {
		return he
	}
	return Error{Code: CodeDecoderPluginError, Sub: SuberrorUnspecified, Message: err.Error()}
}

// imageGrid is the payload of a "grid" item.
type imageGrid struct {
	rows, columns int
	outputWidth   int
	outputHeight  int
}

func parseImageGrid(data []byte) (*imageGrid, error) {
	if len(data) < 8 {
		return nil, invalidInput(SuberrorInvalidGridData, "less than 8 bytes of data")
	}
	// data[0] is the version; it is unused.
	flags := data[1]
	g := &imageGrid{
		rows:    int(data[2]) + 1,
		columns: int(data[3]) + 1,
	}
	if flags&1 != 0 {
		if len(data) < 12 {
			return nil, invalidInput(SuberrorInvalidGridData, "grid image data incomplete")
		}
		g.outputWidth = int(data[4])<<24 | int(data[5])<<16 | int(data[6])<<8 | int(data[7])
		g.outputHeight = int(data[8])<<24 | int(data[9])<<16 | int(data[10])<<8 | int(data[11])
	} else {
		g.outputWidth = int(data[4])<<8 | int(data[5])
		g.outputHeight = int(data[6])<<8 | int(data[7])
	}
	return g, nil
}

// decodeFullGridImage decodes every tile referenced by the dimg edge
// and blits them row-major onto the output canvas. The canvas format
// is taken from the first tile; tiles disagreeing in format fail the
// whole composite.
func (c *Context) decodeFullGridImage(id uint32, gridData []byte, visited map[uint32]bool) (*PixelImage, error) {
	grid, err := parseImageGrid(gridData)
	if err != nil {
		return nil, err
	}

	if c.file.iref == nil {
		return nil, invalidInput(SuberrorNoIrefBox,
			"no iref box available, but needed for grid image")
	}
	refs := c.file.references(id, "dimg")
	if len(refs) != grid.rows*grid.columns {
		return nil, invalidInput(SuberrorMissingGridImages,
			"tiled image with %dx%d=%d tiles, but %d tile images in file",
			grid.rows, grid.columns, grid.rows*grid.columns, len(refs))
	}

	w, h := grid.outputWidth, grid.outputHeight

	var canvas *PixelImage
	refIdx := 0
	y0 := 0
	for row := 0; row < grid.rows; row++ {
		x0 := 0
		tileHeight := 0
		for col := 0; col < grid.columns; col++ {
			tile, err := c.decodeImage(refs[refIdx], &DecodingOptions{}, visited)
			if err != nil {
				return nil, err
			}
			refIdx++

			if canvas == nil {
				canvas = NewPixelImage(w, h, tile.Colorspace(), tile.ChromaFormat())
				for _, ch := range tile.channels() {
					pl := tile.planes[ch]
					sx, sy := subsampling(tile.width, tile.height, pl)
					if err := canvas.AddPlane(ch, w/sx, h/sy, pl.bitDepth); err != nil {
						return nil, err
					}
				}
			} else if tile.Colorspace() != canvas.colorspace || tile.ChromaFormat() != canvas.chroma {
				return nil, invalidInput(SuberrorInvalidGridData,
					"grid tile %d disagrees with the first tile's pixel format", refIdx-1)
			}

			// --- copy the tile into the output canvas, clipped to its bounds

			for _, ch := range tile.channels() {
				src := tile.planes[ch]
				dst, ok := canvas.planes[ch]
				if !ok {
					return nil, invalidInput(SuberrorInvalidGridData,
						"grid tile %d carries a channel the first tile lacks", refIdx-1)
				}
				sx, sy := subsampling(tile.width, tile.height, src)
				xs, ys := x0/sx, y0/sy

				copyWidth := min(src.width, dst.width-xs)
				copyHeight := min(src.height, dst.height-ys)
				for py := 0; py < copyHeight; py++ {
					copy(dst.data[(ys+py)*dst.stride+xs:(ys+py)*dst.stride+xs+copyWidth],
						src.data[py*src.stride:py*src.stride+copyWidth])
				}
			}

			x0 += tile.Width()
			tileHeight = tile.Height()
		}
		y0 += tileHeight
	}

	return canvas, nil
}

// decodeDerivedImage resolves an "iden" alias to the image it is
// derived from.
func (c *Context) decodeDerivedImage(id uint32, visited map[uint32]bool) (*PixelImage, error) {
	if c.file.iref == nil {
		return nil, invalidInput(SuberrorNoIrefBox,
			"no iref box available, but needed for iden image")
	}
	refs := c.file.references(id, "dimg")
	if len(refs) != 1 {
		return nil, invalidInput(SuberrorMissingGridImages,
			"'iden' image with %d reference images", len(refs))
	}
	return c.decodeImage(refs[0], &DecodingOptions{}, visited)
}

// imageOverlay is the payload of an "iovl" item.
type imageOverlay struct {
	version, flags  uint8
	backgroundColor [4]uint16 // R, G, B, A
	width, height   int
	offsets         [][2]int32
}

func readVec(data []byte, ptr *int, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<8 | uint32(data[*ptr])
		*ptr++
	}
	return v
}

func readVecSigned(data []byte, ptr *int, n int) int32 {
	highBit := uint32(0x80) << ((n - 1) * 8)
	v := readVec(data, ptr, n)
	negative := v&highBit != 0
	v &^= highBit
	if negative {
		return -int32(highBit - v)
	}
	return int32(v)
}

func parseImageOverlay(data []byte, numImages int) (*imageOverlay, error) {
	if len(data) < 2+4*2 {
		return nil, invalidInput(SuberrorInvalidGridData, "overlay image data incomplete")
	}

	o := &imageOverlay{version: data[0], flags: data[1]}
	if o.version != 0 {
		return nil, unsupported(SuberrorUnsupportedDataVersion,
			"overlay image data version %d is not implemented yet", o.version)
	}

	fieldLen := 2
	if o.flags&1 != 0 {
		fieldLen = 4
	}
	ptr := 2
	if ptr+4*2+2*fieldLen+numImages*2*fieldLen > len(data) {
		return nil, invalidInput(SuberrorInvalidGridData, "overlay image data incomplete")
	}

	for i := 0; i < 4; i++ {
		o.backgroundColor[i] = uint16(readVec(data, &ptr, 2))
	}
	o.width = int(readVec(data, &ptr, fieldLen))
	o.height = int(readVec(data, &ptr, fieldLen))

	o.offsets = make([][2]int32, numImages)
	for i := 0; i < numImages; i++ {
		o.offsets[i][0] = readVecSigned(data, &ptr, fieldLen)
		o.offsets[i][1] = readVecSigned(data, &ptr, fieldLen)
	}
	return o, nil
}

// decodeOverlayImage composites every referenced image at its signed
// offset onto an RGB canvas pre-filled with the background color.
// Images placed entirely outside the canvas are skipped silently.
func (c *Context) decodeOverlayImage(id uint32, overlayData []byte, visited map[uint32]bool) (*PixelImage, error) {
	if c.file.iref == nil {
		return nil, invalidInput(SuberrorNoIrefBox,
			"no iref box available, but needed for iovl image")
	}
	refs := c.file.references(id, "dimg")

	overlay, err := parseImageOverlay(overlayData, len(refs))
	if err != nil {
		return nil, err
	}
	if len(refs) != len(overlay.offsets) {
		return nil, invalidInput(SuberrorInvalidOverlayData,
			"number of image offsets does not match the number of image references")
	}

	w, h := overlay.width, overlay.height

	// The background color is an RGB value, so the composite is done
	// in RGB 4:4:4.
	canvas := NewPixelImage(w, h, ColorspaceRGB, Chroma444)
	for _, ch := range []Channel{ChannelR, ChannelG, ChannelB} {
		if err := canvas.AddPlane(ch, w, h, 8); err != nil {
			return nil, err
		}
	}
	bkg := overlay.backgroundColor
	if err := canvas.FillRGB16(bkg[0], bkg[1], bkg[2], bkg[3]); err != nil {
		return nil, err
	}

	for i, ref := range refs {
		img, err := c.decodeImage(ref, &DecodingOptions{}, visited)
		if err != nil {
			return nil, err
		}
		img, err = img.ConvertColorspace(ColorspaceRGB, Chroma444)
		if err != nil {
			return nil, err
		}

		dx, dy := overlay.offsets[i][0], overlay.offsets[i][1]
		if err := canvas.Overlay(img, int(dx), int(dy)); err != nil {
			if errors.Is(err, Error{Code: CodeInvalidInput, Sub: SuberrorOverlayImageOutsideOfCanvas}) {
				continue
			}
			return nil, err
		}
	}

	return canvas, nil
}
