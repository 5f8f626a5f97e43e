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
	"io"
	"strings"

	"github.com/T-bagwell/libheif/heif/bmff"
)

// DefaultMaxMemoryBlockSize caps the total number of payload bytes
// assembled for a single item.
const DefaultMaxMemoryBlockSize = 50 * 1024 * 1024

// File is the parsed box-level model of one HEIF file. It owns the
// byte source and exposes the cross-reference tables (items,
// properties, locations, references) that interpretation builds on.
//
// Methods on File should not be called concurrently.
type File struct {
	ra        io.ReaderAt
	size      int64
	maxMemory uint64

	topLevel []bmff.Box

	ftyp *bmff.FileTypeBox
	meta *bmff.MetaBox
	hdlr *bmff.HandlerBox
	pitm *bmff.PrimaryItemBox
	iinf *bmff.ItemInfoBox
	iloc *bmff.ItemLocationBox
	ipco *bmff.ItemPropertyContainerBox
	ipma []*bmff.ItemPropertyAssociation
	iref *bmff.ItemReferenceBox
	idat *bmff.ItemDataBox

	itemOrder []uint32
	items     map[uint32]*bmff.ItemInfoEntry
}

// Property is one resolved item property.
type Property struct {
	Essential bool
	Box       bmff.Box
}

func parseFile(ra io.ReaderAt, size int64, maxMemory uint64) (*File, error) {
	f := &File{
		ra:        ra,
		size:      size,
		maxMemory: maxMemory,
		items:     make(map[uint32]*bmff.ItemInfoEntry),
	}

	r := bmff.NewReader(io.NewSectionReader(ra, 0, size))
	var childErr error
	for {
		b, err := r.ReadBox()
		if err != nil {
			// io.EOF is the normal end; a truncated header also ends
			// the top-level scan, and the mandatory-root checks below
			// decide whether the file is acceptable.
			break
		}
		f.topLevel = append(f.topLevel, b)

		switch b.Type() {
		case bmff.TypeFtyp, bmff.TypeMeta:
			pb, err := b.Parse()
			if err != nil {
				if errors.Is(err, bmff.ErrSecurityLimit) {
					return nil, securityLimit("%v", err)
				}
				childErr = err
				continue
			}
			switch v := pb.(type) {
			case *bmff.FileTypeBox:
				f.ftyp = v
			case *bmff.MetaBox:
				f.meta = v
			}
		}
	}

	if f.ftyp == nil {
		return nil, invalidInput(SuberrorNoFtypBox, "no ftyp box")
	}
	if !f.ftyp.HasCompatibleBrand("heic") {
		return nil, newError(CodeUnsupportedFiletype, SuberrorUnspecified,
			"file does not support the 'heic' brand")
	}
	if f.meta == nil {
		if childErr != nil {
			return nil, invalidInput(SuberrorNoMetaBox, "malformed meta box: %v", childErr)
		}
		return nil, invalidInput(SuberrorNoMetaBox, "no meta box")
	}

	if err := f.collectMetaChildren(); err != nil {
		return nil, err
	}
	return f, f.checkMandatoryBoxes()
}

func (f *File) collectMetaChildren() error {
	for _, b := range f.meta.Children {
		pb, err := b.Parse()
		if err == bmff.ErrUnknownBox {
			continue
		}
		if err != nil {
			if errors.Is(err, bmff.ErrSecurityLimit) {
				return securityLimit("%v", err)
			}
			// A malformed child aborts only its own subtree; its
			// siblings were delimited by the box headers and remain
			// usable. Whether the file is still acceptable depends on
			// the mandatory-root checks.
			continue
		}
		switch v := pb.(type) {
		case *bmff.HandlerBox:
			f.hdlr = v
		case *bmff.PrimaryItemBox:
			f.pitm = v
		case *bmff.ItemInfoBox:
			f.iinf = v
		case *bmff.ItemPropertiesBox:
			f.ipco = v.PropertyContainer
			f.ipma = v.Associations
		case *bmff.ItemLocationBox:
			f.iloc = v
		case *bmff.ItemDataBox:
			f.idat = v
		case *bmff.ItemReferenceBox:
			f.iref = v
		}
	}
	return nil
}

func (f *File) checkMandatoryBoxes() error {
	switch {
	case f.hdlr == nil:
		return invalidInput(SuberrorNoHdlrBox, "no hdlr box")
	case f.hdlr.HandlerType != "pict":
		return invalidInput(SuberrorNoPictHandler, "handler type is %q, not 'pict'", f.hdlr.HandlerType)
	case f.pitm == nil:
		return invalidInput(SuberrorNoPitmBox, "no pitm box")
	case f.ipco == nil:
		return invalidInput(SuberrorNoIpcoBox, "no ipco box")
	case len(f.ipma) == 0:
		return invalidInput(SuberrorNoIpmaBox, "no ipma box")
	case f.iloc == nil:
		return invalidInput(SuberrorNoIlocBox, "no iloc box")
	case f.iinf == nil:
		return invalidInput(SuberrorNoIinfBox, "no iinf box")
	}

	for _, infe := range f.iinf.ItemInfos {
		if _, dup := f.items[infe.ItemID]; !dup {
			f.itemOrder = append(f.itemOrder, infe.ItemID)
		}
		f.items[infe.ItemID] = infe
	}
	return nil
}

// ItemIDs returns all item identifiers in file order.
func (f *File) ItemIDs() []uint32 {
	ids := make([]uint32, len(f.itemOrder))
	copy(ids, f.itemOrder)
	return ids
}

// PrimaryItemID returns the identifier declared by the pitm box.
func (f *File) PrimaryItemID() uint32 { return f.pitm.ItemID }

func (f *File) itemInfo(id uint32) *bmff.ItemInfoEntry { return f.items[id] }

// ItemType returns the four-character item type, or "" if the item
// does not exist.
func (f *File) ItemType(id uint32) string {
	infe := f.items[id]
	if infe == nil {
		return ""
	}
	return infe.ItemType
}

// Properties resolves the ordered property list of an item through the
// ipma associations. Index 0 entries are skipped; an index past the
// end of the ipco array is a parse error.
func (f *File) Properties(id uint32) ([]Property, error) {
	var assoc []bmff.ItemProperty
	for _, ipma := range f.ipma {
		// Multiple ipma boxes may exist with different version/flags;
		// the first one that knows the item wins.
		for _, entry := range ipma.Entries {
			if entry.ItemID == id {
				assoc = entry.Associations
				break
			}
		}
		if assoc != nil {
			break
		}
	}
	if assoc == nil {
		return nil, invalidInput(SuberrorNoPropertiesAssignedToItem,
			"item %d has no properties assigned to it in ipma box", id)
	}

	all := f.ipco.Properties
	var props []Property
	for _, a := range assoc {
		if a.Index == 0 {
			continue
		}
		if int(a.Index) > len(all) {
			return nil, invalidInput(SuberrorIpmaReferencesNonexistingProperty,
				"nonexisting property (index=%d) for item %d referenced in ipma box", a.Index, id)
		}
		b := all[a.Index-1]
		if pb, err := b.Parse(); err == nil {
			b = pb
		}
		props = append(props, Property{Essential: a.Essential, Box: b})
	}
	return props, nil
}

// references returns the targets of the first reference entry of the
// given relation type originating at id.
func (f *File) references(id uint32, relation string) []uint32 {
	if f.iref == nil {
		return nil
	}
	for _, r := range f.iref.ItemRefs {
		if r.FromItemID == id && r.Type().EqualString(relation) {
			return r.ToItemIDs
		}
	}
	return nil
}

// CompressedImageData assembles the coded payload bytes of an item
// from its iloc extents. For hvc1 items the parameter-set NAL units
// from the hvcC property are prepended in 4-byte-length-prefixed
// framing; grid, iovl and Exif payloads are returned verbatim.
func (f *File) CompressedImageData(id uint32) ([]byte, error) {
	infe := f.items[id]
	if infe == nil {
		return nil, usageError(SuberrorNonexistingImageID, "item %d does not exist", id)
	}

	entry := f.iloc.EntryByID(id)
	if entry == nil {
		return nil, invalidInput(SuberrorNoItemData, "item with ID %d has no compressed data", id)
	}

	var dest []byte
	switch infe.ItemType {
	case "hvc1":
		props, err := f.Properties(id)
		if err != nil {
			return nil, err
		}
		var hvcC *bmff.HevcConfigurationBox
		for _, p := range props {
			if hb, ok := p.Box.(*bmff.HevcConfigurationBox); ok {
				hvcC = hb
				break
			}
		}
		if hvcC == nil {
			return nil, invalidInput(SuberrorNoHvcCBox, "no hvcC property for item %d", id)
		}
		dest = hvcC.AsHeader()
	case "grid", "iovl", "Exif":
		// Raw descriptor or metadata payload.
	default:
		return nil, unsupported(SuberrorUnsupportedCodec, "item type %q", infe.ItemType)
	}

	return f.readExtents(entry, dest)
}

func (f *File) readExtents(entry *bmff.ItemLocationBoxEntry, dest []byte) ([]byte, error) {
	for _, ext := range entry.Extents {
		switch entry.ConstructionMethod {
		case 0:
			pos := int64(entry.BaseOffset + ext.Offset)
			if pos < 0 || pos > f.size {
				return nil, invalidInput(SuberrorEndOfData,
					"extent in iloc box references data outside of file bounds (points to file position %d)", pos)
			}
			if err := f.checkMemoryLimit(uint64(len(dest)), ext.Length); err != nil {
				return nil, err
			}
			if pos+int64(ext.Length) > f.size {
				return nil, invalidInput(SuberrorEndOfData,
					"extent of %d bytes at file position %d crosses end of file", ext.Length, pos)
			}
			buf := make([]byte, ext.Length)
			if _, err := f.ra.ReadAt(buf, pos); err != nil {
				return nil, invalidInput(SuberrorEndOfData, "reading extent: %v", err)
			}
			dest = append(dest, buf...)

		case 1:
			if f.idat == nil {
				return nil, invalidInput(SuberrorNoIdatBox,
					"idat box referenced in iloc box is not present in file")
			}
			if err := f.checkMemoryLimit(uint64(len(dest)), ext.Length); err != nil {
				return nil, err
			}
			start := entry.BaseOffset + ext.Offset
			end := start + ext.Length
			if end < start || end > uint64(len(f.idat.Data)) {
				return nil, invalidInput(SuberrorEndOfData,
					"extent of %d bytes at idat position %d crosses end of idat box", ext.Length, start)
			}
			dest = append(dest, f.idat.Data[start:end]...)

		default:
			return nil, unsupported(SuberrorUnsupportedConstructionMethod,
				"iloc construction method %d", entry.ConstructionMethod)
		}
	}
	return dest, nil
}

func (f *File) checkMemoryLimit(current, add uint64) error {
	if add > f.maxMemory || current > f.maxMemory-add {
		return securityLimit(
			"item data of %d bytes would grow to %d bytes, exceeding the limit of %d bytes",
			add, current+add, f.maxMemory)
	}
	return nil
}

// DumpBoxes returns a human-readable dump of the parsed box tree.
func (f *File) DumpBoxes() string {
	var sb strings.Builder
	for i, b := range f.topLevel {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(bmff.DumpBox(b))
	}
	return sb.String()
}
