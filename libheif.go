// Package libheif reads HEIF image containers, as found in Apple HEIC
// files, and plugs them into the standard library image registry.
//
// The package itself carries no HEVC decoder; pixel decoding requires
// a decoder plugin registered through heif.RegisterDecoder. Without a
// plugin, DecodeConfig, ExtractExif and the structural accessors in
// the heif package still work.
package libheif

import (
	"bytes"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/T-bagwell/libheif/heif"
)

// Decode reads a HEIF image from r and returns the decoded primary
// image.
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	ctx := heif.NewContext()
	if err := ctx.ReadFromBytes(data); err != nil {
		return nil, err
	}

	img, err := ctx.DecodeImage(ctx.PrimaryImageID(), nil)
	if err != nil {
		return nil, err
	}
	return img.ToImage()
}

// DecodeConfig returns the color model and dimensions of the primary
// image without decoding pixels.
func DecodeConfig(r io.Reader) (image.Config, error) {
	var config image.Config

	data, err := io.ReadAll(r)
	if err != nil {
		return config, err
	}

	ctx := heif.NewContext()
	if err := ctx.ReadFromBytes(data); err != nil {
		return config, err
	}

	primary := ctx.PrimaryImage()
	config = image.Config{
		ColorModel: color.YCbCrModel,
		Width:      primary.Width(),
		Height:     primary.Height(),
	}
	return config, nil
}

// ExtractExif returns the raw Exif block of the primary image, with
// the 4-byte tiff-header-offset field stripped so the result starts at
// the payload the offset points into.
func ExtractExif(ra io.ReaderAt) ([]byte, error) {
	ctx := heif.NewContext()
	if err := ctx.ReadFrom(ra, readerAtSize(ra)); err != nil {
		return nil, err
	}

	for _, md := range ctx.PrimaryImage().Metadata() {
		if md.ItemType == "Exif" && len(md.Data) > 4 {
			return md.Data[4:], nil
		}
	}
	return nil, heif.Error{Code: heif.CodeInvalidInput, Sub: heif.SuberrorNoItemData,
		Message: "no EXIF found"}
}

// DecodeExif parses the primary image's Exif block.
func DecodeExif(ra io.ReaderAt) (*exif.Exif, error) {
	raw, err := ExtractExif(ra)
	if err != nil {
		return nil, err
	}
	return exif.Decode(bytes.NewReader(raw))
}

func readerAtSize(ra io.ReaderAt) int64 {
	type sized interface{ Size() int64 }
	if s, ok := ra.(sized); ok {
		return s.Size()
	}
	if s, ok := ra.(io.Seeker); ok {
		if n, err := s.Seek(0, io.SeekEnd); err == nil {
			return n
		}
	}
	return math.MaxInt64
}

func init() {
	// The 'ftyp' magic sits after the 4-byte box size.
	image.RegisterFormat("heic", "????ftyp", Decode, DecodeConfig)
}
