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
	"bytes"
	"io"
	"math"
	"os"

	"github.com/T-bagwell/libheif/heif/bmff"
)

// Auxiliary-channel type URNs recognized in auxC properties.
const (
	auxTypeAlphaAVC  = "urn:mpeg:avc:2015:auxid:1"
	auxTypeAlphaHEVC = "urn:mpeg:hevc:2015:auxid:1"
	auxTypeDepthHEVC = "urn:mpeg:hevc:2015:auxid:2"
)

// Context owns one parsed and interpreted HEIF file: the box-level
// File plus the logical image catalog derived from it.
//
// Methods on a Context should not be called concurrently. A failed
// read leaves the context in a terminal state where only DumpBoxes
// remains meaningful.
type Context struct {
	file      *File
	plugins   []DecoderPlugin
	maxMemory uint64
	owned     io.Closer

	images   map[uint32]*Image
	topLevel []*Image
	primary  *Image
}

// Option configures a Context.
type Option func(*Context)

// WithDecoderPlugin adds a decoder plugin to this context, in addition
// to the globally registered default set.
func WithDecoderPlugin(p DecoderPlugin) Option {
	return func(c *Context) { c.plugins = append(c.plugins, p) }
}

// WithMemoryLimit overrides the per-item payload byte limit.
func WithMemoryLimit(limit uint64) Option {
	return func(c *Context) { c.maxMemory = limit }
}

// NewContext returns an empty context. Call one of the ReadFrom
// methods before using it.
func NewContext(opts ...Option) *Context {
	c := &Context{
		maxMemory: DefaultMaxMemoryBlockSize,
		plugins:   append([]DecoderPlugin(nil), defaultPlugins...),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ReadFromFile parses and interprets the HEIF file at path. The file
// stays open for on-demand payload reads until Close is called.
func (c *Context) ReadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return invalidInput(SuberrorUnspecified, "opening file: %v", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return invalidInput(SuberrorUnspecified, "stat file: %v", err)
	}
	if err := c.ReadFrom(f, fi.Size()); err != nil {
		f.Close()
		return err
	}
	c.owned = f
	return nil
}

// ReadFromBytes parses and interprets a HEIF file held in memory.
func (c *Context) ReadFromBytes(data []byte) error {
	return c.ReadFrom(bytes.NewReader(data), int64(len(data)))
}

// ReadFrom parses all top-level boxes from ra and interprets the item
// model into the logical image catalog.
func (c *Context) ReadFrom(ra io.ReaderAt, size int64) error {
	f, err := parseFile(ra, size, c.maxMemory)
	if err != nil {
		return err
	}
	c.file = f
	if err := c.interpretFile(); err != nil {
		c.images, c.topLevel, c.primary = nil, nil, nil
		return err
	}
	return nil
}

// Close releases the byte source if the context owns it.
func (c *Context) Close() error {
	if c.owned != nil {
		err := c.owned.Close()
		c.owned = nil
		return err
	}
	return nil
}

// DumpBoxes returns a human-readable dump of the parsed box tree.
func (c *Context) DumpBoxes() string {
	if c.file == nil {
		return ""
	}
	return c.file.DumpBoxes()
}

// ImageMetadata is one metadata block attached to an image.
type ImageMetadata struct {
	ItemType string
	Data     []byte
}

// Image is one logical image of the catalog: an item of type hvc1,
// grid, iden or iovl together with its interpreted role, resolved
// resolution and attached companions. Images are created during
// interpretation and never mutated afterwards.
type Image struct {
	id      uint32
	primary bool

	width, height int

	isThumbnail  bool
	thumbnailOf  uint32
	thumbnails   []*Image
	isAlpha      bool
	alphaOf      uint32
	alphaChannel *Image
	isDepth      bool
	depthOf      uint32
	depthChannel *Image

	metadata []ImageMetadata
	depthRep *DepthRepresentationInfo
}

func (img *Image) ID() uint32      { return img.id }
func (img *Image) IsPrimary() bool { return img.primary }

// Width returns the logical width after clean-aperture and rotation
// properties have been applied to the coded extents.
func (img *Image) Width() int  { return img.width }
func (img *Image) Height() int { return img.height }

func (img *Image) IsThumbnail() bool { return img.isThumbnail }

// Thumbnails returns the thumbnail images attached to this image.
func (img *Image) Thumbnails() []*Image { return img.thumbnails }

func (img *Image) HasAlphaChannel() bool { return img.alphaChannel != nil }
func (img *Image) HasDepthChannel() bool { return img.depthChannel != nil }

// AlphaChannel returns the attached alpha image, or nil.
func (img *Image) AlphaChannel() *Image { return img.alphaChannel }

// DepthChannel returns the attached depth image, or nil.
func (img *Image) DepthChannel() *Image { return img.depthChannel }

// DepthRepresentationInfo returns the depth-representation SEI parsed
// from the depth channel's auxC property, if any. It can be asked of
// either the master image or the depth image itself.
func (img *Image) DepthRepresentationInfo() (*DepthRepresentationInfo, bool) {
	if img.depthRep != nil {
		return img.depthRep, true
	}
	if img.depthChannel != nil && img.depthChannel.depthRep != nil {
		return img.depthChannel.depthRep, true
	}
	return nil, false
}

// Metadata returns the metadata blocks attached to this image.
func (img *Image) Metadata() []ImageMetadata { return img.metadata }

// PrimaryImage returns the primary image. It is always present after a
// successful read.
func (c *Context) PrimaryImage() *Image { return c.primary }

// PrimaryImageID returns the identifier of the primary image.
func (c *Context) PrimaryImageID() uint32 { return c.primary.id }

// TopLevelImages returns the non-hidden master images, excluding
// thumbnails and auxiliary channels.
func (c *Context) TopLevelImages() []*Image {
	out := make([]*Image, len(c.topLevel))
	copy(out, c.topLevel)
	return out
}

// TopLevelImageIDs returns the identifiers of the top-level images.
func (c *Context) TopLevelImageIDs() []uint32 {
	ids := make([]uint32, 0, len(c.topLevel))
	for _, img := range c.topLevel {
		ids = append(ids, img.id)
	}
	return ids
}

// IsTopLevelImageID reports whether id names a top-level image.
func (c *Context) IsTopLevelImageID(id uint32) bool {
	for _, img := range c.topLevel {
		if img.id == id {
			return true
		}
	}
	return false
}

// Image returns the image with the given identifier. Unlike the
// top-level list this also resolves hidden, thumbnail and auxiliary
// images.
func (c *Context) Image(id uint32) (*Image, error) {
	img, ok := c.images[id]
	if !ok {
		return nil, usageError(SuberrorNonexistingImageID, "no image with ID %d", id)
	}
	return img, nil
}

func itemTypeIsImage(itemType string) bool {
	return itemType == "hvc1" || itemType == "grid" ||
		itemType == "iden" || itemType == "iovl"
}

func (c *Context) removeTopLevelImage(img *Image) {
	for i, t := range c.topLevel {
		if t == img {
			c.topLevel = append(c.topLevel[:i], c.topLevel[i+1:]...)
			return
		}
	}
}

// interpretFile turns the flat item/property/reference tables into the
// logical image catalog. It runs once, directly after parsing.
func (c *Context) interpretFile() error {
	c.images = make(map[uint32]*Image)
	c.topLevel = nil
	c.primary = nil

	// --- reference all image items; non-hidden ones are top-level

	for _, id := range c.file.ItemIDs() {
		infe := c.file.itemInfo(id)
		if infe == nil || !itemTypeIsImage(infe.ItemType) {
			continue
		}
		img := &Image{id: id}
		c.images[id] = img

		if !infe.Hidden {
			if id == c.file.PrimaryItemID() {
				img.primary = true
				c.primary = img
			}
			c.topLevel = append(c.topLevel, img)
		}
	}

	if c.primary == nil {
		return invalidInput(SuberrorNonexistingImageReferenced,
			"'pitm' box references a non-existing image")
	}

	// --- move thumbnails and auxiliary images off the top level and
	//     attach them to their masters

	if c.file.iref != nil {
		for _, ref := range c.file.iref.ItemRefs {
			img := c.images[ref.FromItemID]
			if img == nil {
				continue
			}
			switch {
			case ref.Type().EqualString("thmb"):
				if err := c.attachThumbnail(img, ref.ToItemIDs); err != nil {
					return err
				}
			case ref.Type().EqualString("auxl"):
				if err := c.attachAuxiliary(img, ref.ToItemIDs); err != nil {
					return err
				}
			}
		}
	}

	// --- read through properties and extract image resolutions

	for id, img := range c.images {
		props, err := c.file.Properties(id)
		if err != nil {
			return err
		}

		ispeRead := false
		for _, prop := range props {
			if ispe, ok := prop.Box.(*bmff.ImageSpatialExtentsProperty); ok {
				if ispe.ImageWidth >= math.MaxInt32 || ispe.ImageHeight >= math.MaxInt32 {
					return securityLimit("image size %dx%d exceeds the maximum image size",
						ispe.ImageWidth, ispe.ImageHeight)
				}
				img.width = int(ispe.ImageWidth)
				img.height = int(ispe.ImageHeight)
				ispeRead = true
			}
			if !ispeRead {
				continue
			}
			if clap, ok := prop.Box.(*bmff.CleanApertureBox); ok {
				img.width = int(clap.WidthRounded())
				img.height = int(clap.HeightRounded())
			}
			if rot, ok := prop.Box.(*bmff.ImageRotation); ok {
				if rot.Angle == 90 || rot.Angle == 270 {
					img.width, img.height = img.height, img.width
				}
			}
		}
	}

	// --- read metadata items and assign them to their images

	for _, id := range c.file.ItemIDs() {
		if c.file.ItemType(id) != "Exif" {
			continue
		}
		refs := c.file.references(id, "cdsc")
		if refs == nil {
			continue
		}
		if len(refs) != 1 {
			return invalidInput(SuberrorUnspecified,
				"Exif data not correctly assigned to image")
		}
		master := c.images[refs[0]]
		if master == nil {
			return invalidInput(SuberrorNonexistingImageReferenced,
				"Exif data assigned to non-existing image")
		}
		data, err := c.file.CompressedImageData(id)
		if err != nil {
			return err
		}
		master.metadata = append(master.metadata, ImageMetadata{
			ItemType: "Exif",
			Data:     data,
		})
	}

	return nil
}

func (c *Context) attachThumbnail(img *Image, refs []uint32) error {
	if len(refs) != 1 {
		return invalidInput(SuberrorUnspecified, "too many thumbnail references")
	}
	if img.isThumbnail {
		return invalidInput(SuberrorNonexistingImageReferenced,
			"image %d is a thumbnail of two images", img.id)
	}
	master := c.images[refs[0]]
	if master == nil {
		return invalidInput(SuberrorNonexistingImageReferenced,
			"thumbnail references a non-existing image")
	}
	if master.isThumbnail {
		return invalidInput(SuberrorNonexistingImageReferenced,
			"thumbnail references another thumbnail")
	}

	img.isThumbnail = true
	img.thumbnailOf = master.id
	master.thumbnails = append(master.thumbnails, img)
	c.removeTopLevelImage(img)
	return nil
}

func (c *Context) attachAuxiliary(img *Image, refs []uint32) error {
	props, err := c.file.Properties(img.id)
	if err != nil {
		return err
	}
	var auxC *bmff.AuxiliaryTypeProperty
	for _, p := range props {
		if ap, ok := p.Box.(*bmff.AuxiliaryTypeProperty); ok {
			auxC = ap
		}
	}
	if auxC == nil {
		return invalidInput(SuberrorAuxiliaryImageTypeUnspecified,
			"no auxC property for image %d", img.id)
	}

	if len(refs) != 1 {
		return invalidInput(SuberrorUnspecified, "too many auxiliary image references")
	}
	master := c.images[refs[0]]
	if master == nil {
		return invalidInput(SuberrorNonexistingImageReferenced,
			"auxiliary image references a non-existing image")
	}

	switch auxC.AuxType {
	case auxTypeAlphaAVC, auxTypeAlphaHEVC:
		img.isAlpha = true
		img.alphaOf = master.id
		master.alphaChannel = img

	case auxTypeDepthHEVC:
		img.isDepth = true
		img.depthOf = master.id
		master.depthChannel = img

		if info, err := decodeHevcAuxSEIMessages(auxC.Subtypes); err == nil && info != nil {
			img.depthRep = info
		}
	}

	c.removeTopLevelImage(img)
	return nil
}
