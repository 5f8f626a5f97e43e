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

package bmff

import (
	"errors"
	"fmt"
	"io"
)

// ErrSecurityLimit is wrapped by parse errors caused by a file
// exceeding one of the security limits (child boxes, iloc items,
// iloc extents).
var ErrSecurityLimit = errors.New("bmff: security limit exceeded")

// FileTypeBox is the "ftyp" box.
type FileTypeBox struct {
	*box
	MajorBrand   string   // 4 bytes
	MinorVersion string   // 4 bytes
	Compatible   []string // all 4 bytes
}

// HasCompatibleBrand reports whether brand is listed among the
// compatible brands.
func (ft *FileTypeBox) HasCompatibleBrand(brand string) bool {
	for _, b := range ft.Compatible {
		if b == brand {
			return true
		}
	}
	return false
}

func parseFileTypeBox(outer *box, br *bufReader) (Box, error) {
	buf, err := br.Peek(8)
	if err != nil {
		return nil, err
	}
	ft := &FileTypeBox{
		box:          outer,
		MajorBrand:   string(buf[:4]),
		MinorVersion: string(buf[4:8]),
	}
	br.Discard(8)
	for {
		buf, err := br.Peek(4)
		if err == io.EOF {
			return ft, nil
		}
		if err != nil {
			return nil, err
		}
		ft.Compatible = append(ft.Compatible, string(buf[:4]))
		br.Discard(4)
	}
}

// MetaBox is the "meta" box, the container of all item-level boxes.
type MetaBox struct {
	FullBox
	Children []Box
}

func parseMetaBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	mb := &MetaBox{FullBox: fb}
	return mb, br.parseAppendBoxes(&mb.Children)
}

// HandlerBox is the "hdlr" box. For HEIF still images the handler type
// is always "pict".
type HandlerBox struct {
	FullBox
	HandlerType string // always 4 bytes
	Name        string
}

func parseHandlerBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	hb := &HandlerBox{FullBox: fb}
	buf, err := br.Peek(20)
	if err != nil {
		return nil, err
	}
	hb.HandlerType = string(buf[4:8]) // 4 bytes pre_defined, 12 bytes reserved
	br.Discard(20)

	if br.anyRemain() {
		hb.Name, _ = br.readString()
	}
	return hb, br.err
}

// PrimaryItemBox is the "pitm" box.
type PrimaryItemBox struct {
	FullBox
	ItemID uint32
}

func parsePrimaryItemBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	pib := &PrimaryItemBox{FullBox: fb}
	if fb.Version == 0 {
		id, _ := br.readUint16()
		pib.ItemID = uint32(id)
	} else {
		pib.ItemID, _ = br.readUint32()
	}
	if !br.ok() {
		return nil, br.err
	}
	return pib, nil
}

// ItemInfoEntry is an "infe" box.
type ItemInfoEntry struct {
	FullBox

	ItemID          uint32
	ProtectionIndex uint16
	ItemType        string // 4 bytes; empty for version <= 1
	Name            string
	Hidden          bool // flags bit 0, version >= 2

	// If ItemType == "mime":
	ContentType     string
	ContentEncoding string

	// If ItemType == "uri ":
	ItemURIType string
}

func parseItemInfoEntry(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	ie := &ItemInfoEntry{FullBox: fb}

	if fb.Version <= 1 {
		id, _ := br.readUint16()
		ie.ItemID = uint32(id)
		ie.ProtectionIndex, _ = br.readUint16()
		ie.Name, _ = br.readString()
		if br.anyRemain() {
			ie.ContentType, _ = br.readString()
		}
		if br.anyRemain() {
			ie.ContentEncoding, _ = br.readString()
		}
		if !br.ok() {
			return nil, br.err
		}
		return ie, nil
	}

	ie.Hidden = fb.Flags&1 != 0
	if fb.Version == 2 {
		id, _ := br.readUint16()
		ie.ItemID = uint32(id)
	} else {
		ie.ItemID, _ = br.readUint32()
	}
	ie.ProtectionIndex, _ = br.readUint16()
	typ, _ := br.readFourCC()
	if !br.ok() {
		return nil, br.err
	}
	if typ != (BoxType{}) {
		ie.ItemType = typ.String()
	}
	ie.Name, _ = br.readString()

	switch ie.ItemType {
	case "mime":
		ie.ContentType, _ = br.readString()
		if br.anyRemain() {
			ie.ContentEncoding, _ = br.readString()
		}
	case "uri ":
		ie.ItemURIType, _ = br.readString()
	}
	if !br.ok() {
		return nil, br.err
	}
	return ie, nil
}

// ItemInfoBox is an "iinf" box.
type ItemInfoBox struct {
	FullBox
	Count     uint32
	ItemInfos []*ItemInfoEntry
}

func parseItemInfoBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	ib := &ItemInfoBox{FullBox: fb}

	if ib.Version >= 1 {
		ib.Count, _ = br.readUint32()
	} else {
		count, _ := br.readUint16()
		ib.Count = uint32(count)
	}

	var itemInfos []Box
	br.parseAppendBoxes(&itemInfos)
	if br.ok() {
		for _, b := range itemInfos {
			pb, err := b.Parse()
			if err == ErrUnknownBox {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("error parsing ItemInfoEntry in ItemInfoBox: %v", err)
			}
			if iie, ok := pb.(*ItemInfoEntry); ok {
				ib.ItemInfos = append(ib.ItemInfos, iie)
			}
		}
	}
	if !br.ok() {
		return nil, br.err
	}
	return ib, nil
}

// OffsetLength is one iloc extent.
type OffsetLength struct {
	Index          uint64
	Offset, Length uint64
}

// ItemLocationBoxEntry locates the coded bytes of one item.
// Not a box.
type ItemLocationBoxEntry struct {
	ItemID             uint32
	ConstructionMethod uint8 // actually uint4
	DataReferenceIndex uint16
	BaseOffset         uint64
	Extents            []OffsetLength
}

// ItemLocationBox is the "iloc" box.
type ItemLocationBox struct {
	FullBox

	offsetSize, lengthSize, baseOffsetSize, indexSize uint8 // actually uint4

	Items []ItemLocationBoxEntry
}

// EntryByID returns the location entry for an item id, or nil.
func (ilb *ItemLocationBox) EntryByID(id uint32) *ItemLocationBoxEntry {
	for i := range ilb.Items {
		if ilb.Items[i].ItemID == id {
			return &ilb.Items[i]
		}
	}
	return nil
}

func parseItemLocationBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	ilb := &ItemLocationBox{FullBox: fb}

	sizes, err := br.readUint16()
	if err != nil {
		return nil, err
	}
	ilb.offsetSize = uint8(sizes>>12) & 15
	ilb.lengthSize = uint8(sizes>>8) & 15
	ilb.baseOffsetSize = uint8(sizes>>4) & 15
	if fb.Version > 1 {
		ilb.indexSize = uint8(sizes) & 15
	}

	var itemCount uint32
	if fb.Version < 2 {
		n, _ := br.readUint16()
		itemCount = uint32(n)
	} else {
		itemCount, _ = br.readUint32()
	}
	if itemCount > MaxIlocItems {
		return nil, fmt.Errorf("%w: iloc box contains %d items, limit is %d", ErrSecurityLimit, itemCount, MaxIlocItems)
	}

	for i := uint32(0); br.ok() && i < itemCount; i++ {
		var ent ItemLocationBoxEntry
		if fb.Version < 2 {
			id, _ := br.readUint16()
			ent.ItemID = uint32(id)
		} else {
			ent.ItemID, _ = br.readUint32()
		}
		if fb.Version >= 1 {
			cmeth, _ := br.readUint16()
			ent.ConstructionMethod = uint8(cmeth & 15)
		}
		ent.DataReferenceIndex, _ = br.readUint16()
		ent.BaseOffset, _ = br.readUintN(ilb.baseOffsetSize * 8)

		extentCount, _ := br.readUint16()
		if extentCount > MaxIlocExtentsPerItem {
			return nil, fmt.Errorf("%w: %d extents in iloc item, limit is %d", ErrSecurityLimit, extentCount, MaxIlocExtentsPerItem)
		}
		for j := 0; br.ok() && j < int(extentCount); j++ {
			var ol OffsetLength
			if fb.Version > 1 && ilb.indexSize > 0 {
				ol.Index, _ = br.readUintN(ilb.indexSize * 8)
			}
			ol.Offset, _ = br.readUintN(ilb.offsetSize * 8)
			ol.Length, _ = br.readUintN(ilb.lengthSize * 8)
			if br.err != nil {
				return nil, br.err
			}
			ent.Extents = append(ent.Extents, ol)
		}
		ilb.Items = append(ilb.Items, ent)
	}
	if !br.ok() {
		return nil, br.err
	}
	return ilb, nil
}

// ItemPropertyContainerBox is the "ipco" box: the ordered, 1-indexed
// array of property boxes.
type ItemPropertyContainerBox struct {
	*box
	Properties []Box
}

func parseItemPropertyContainerBox(outer *box, br *bufReader) (Box, error) {
	ipc := &ItemPropertyContainerBox{box: outer}
	return ipc, br.parseAppendBoxes(&ipc.Properties)
}

// ItemPropertiesBox is the "iprp" box, containing one "ipco" box and
// at least one "ipma" box.
type ItemPropertiesBox struct {
	*box
	PropertyContainer *ItemPropertyContainerBox
	Associations      []*ItemPropertyAssociation
}

func parseItemPropertiesBox(outer *box, br *bufReader) (Box, error) {
	ip := &ItemPropertiesBox{box: outer}

	var boxes []Box
	if err := br.parseAppendBoxes(&boxes); err != nil {
		return nil, err
	}
	if len(boxes) < 2 {
		return nil, fmt.Errorf("bmff: iprp box with %d children; expect at least 2", len(boxes))
	}

	cb, err := boxes[0].Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse first box, %q: %v", boxes[0].Type(), err)
	}
	var ok bool
	ip.PropertyContainer, ok = cb.(*ItemPropertyContainerBox)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T for ItemPropertiesBox.PropertyContainer", cb)
	}

	ip.Associations = make([]*ItemPropertyAssociation, 0, len(boxes)-1)
	for _, b := range boxes[1:] {
		boxp, err := b.Parse()
		if err != nil {
			return nil, fmt.Errorf("failed to parse association box: %v", err)
		}
		ipa, ok := boxp.(*ItemPropertyAssociation)
		if !ok {
			return nil, fmt.Errorf("unexpected box %q instead of ItemPropertyAssociation", boxp.Type())
		}
		ip.Associations = append(ip.Associations, ipa)
	}
	return ip, nil
}

// ItemPropertyAssociation is an "ipma" box.
type ItemPropertyAssociation struct {
	FullBox
	EntryCount uint32
	Entries    []ItemPropertyAssociationItem
}

// ItemProperty is one (index, essential) association. Not a box.
// Index is 1-based into the ipco property list; 0 means "no property".
type ItemProperty struct {
	Essential bool
	Index     uint16
}

// ItemPropertyAssociationItem is the association list of one item.
// Not a box.
type ItemPropertyAssociationItem struct {
	ItemID       uint32
	Associations []ItemProperty
}

func parseItemPropertyAssociation(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	ipa := &ItemPropertyAssociation{FullBox: fb}
	count, _ := br.readUint32()
	ipa.EntryCount = count

	for i := uint32(0); i < count && br.ok(); i++ {
		var itemID uint32
		if fb.Version < 1 {
			id, _ := br.readUint16()
			itemID = uint32(id)
		} else {
			itemID, _ = br.readUint32()
		}
		assocCount, _ := br.readUint8()
		ipai := ItemPropertyAssociationItem{ItemID: itemID}
		for j := 0; j < int(assocCount) && br.ok(); j++ {
			var essential bool
			var index uint16
			if fb.Flags&1 != 0 {
				v, _ := br.readUint16()
				essential = v&0x8000 != 0
				index = v & 0x7fff
			} else {
				v, _ := br.readUint8()
				essential = v&0x80 != 0
				index = uint16(v & 0x7f)
			}
			ipai.Associations = append(ipai.Associations, ItemProperty{
				Essential: essential,
				Index:     index,
			})
		}
		ipa.Entries = append(ipa.Entries, ipai)
	}
	if !br.ok() {
		return nil, br.err
	}
	return ipa, nil
}

// ItemReferenceBox is an "iref" box: typed directed edges between items.
type ItemReferenceBox struct {
	FullBox
	ItemRefs []*ItemReferenceEntry
}

// ItemReferenceEntry is one typed reference. Its box type is the
// relation type ("thmb", "auxl", "cdsc", "dimg", ...).
type ItemReferenceEntry struct {
	*box
	FromItemID uint32
	ToItemIDs  []uint32
}

func parseItemReferenceBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	ib := &ItemReferenceBox{FullBox: fb}

	var itemRefs []Box
	br.parseAppendBoxes(&itemRefs)
	if br.ok() {
		for _, b := range itemRefs {
			entry, err := parseItemReferenceEntry(b.(*box), ib.Version)
			if err != nil {
				return nil, fmt.Errorf("error parsing ItemReferenceEntry in ItemReferenceBox: %v", err)
			}
			ib.ItemRefs = append(ib.ItemRefs, entry)
		}
	}
	if !br.ok() {
		return nil, br.err
	}
	return ib, nil
}

func parseItemReferenceEntry(outer *box, version uint8) (*ItemReferenceEntry, error) {
	br := &bufReader{Reader: newBufioReader(outer.Body())}
	e := &ItemReferenceEntry{box: outer}

	idBits := uint8(16)
	if version > 0 {
		idBits = 32
	}
	from, _ := br.readUintN(idBits)
	e.FromItemID = uint32(from)
	count, _ := br.readUint16()
	for i := 0; i < int(count) && br.ok(); i++ {
		to, _ := br.readUintN(idBits)
		e.ToItemIDs = append(e.ToItemIDs, uint32(to))
	}
	if !br.ok() {
		return nil, br.err
	}
	return e, nil
}

// ImageSpatialExtentsProperty is an "ispe" property.
type ImageSpatialExtentsProperty struct {
	FullBox
	ImageWidth  uint32
	ImageHeight uint32
}

func parseImageSpatialExtentsProperty(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	w, err := br.readUint32()
	if err != nil {
		return nil, err
	}
	h, err := br.readUint32()
	if err != nil {
		return nil, err
	}
	return &ImageSpatialExtentsProperty{
		FullBox:     fb,
		ImageWidth:  w,
		ImageHeight: h,
	}, nil
}

// ImageRotation is an "irot" property. Angle is in degrees,
// counter-clockwise, one of 0, 90, 180, 270.
type ImageRotation struct {
	*box
	Angle uint16
}

func parseImageRotation(outer *box, br *bufReader) (Box, error) {
	v, err := br.readUint8()
	if err != nil {
		return nil, err
	}
	return &ImageRotation{box: outer, Angle: uint16(v&3) * 90}, nil
}

// MirrorAxis selects the axis of an "imir" mirror property.
type MirrorAxis uint8

const (
	MirrorAxisVertical MirrorAxis = iota
	MirrorAxisHorizontal
)

func (a MirrorAxis) String() string {
	if a == MirrorAxisHorizontal {
		return "horizontal"
	}
	return "vertical"
}

// ImageMirror is an "imir" property.
type ImageMirror struct {
	*box
	Axis MirrorAxis
}

func parseImageMirror(outer *box, br *bufReader) (Box, error) {
	v, err := br.readUint8()
	if err != nil {
		return nil, err
	}
	axis := MirrorAxisVertical
	if v&1 != 0 {
		axis = MirrorAxisHorizontal
	}
	return &ImageMirror{box: outer, Axis: axis}, nil
}

// AuxiliaryTypeProperty is an "auxC" property: the URN identifying an
// auxiliary channel (alpha, depth) plus codec-specific subtype bytes.
type AuxiliaryTypeProperty struct {
	FullBox
	AuxType  string
	Subtypes []byte
}

func parseAuxiliaryTypeProperty(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	ap := &AuxiliaryTypeProperty{FullBox: fb}
	ap.AuxType, err = br.readString()
	if err != nil {
		return nil, err
	}
	ap.Subtypes, err = io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	return ap, nil
}

// ItemDataBox is an "idat" box: item payload bytes embedded in the
// meta box, addressed by iloc construction method 1.
type ItemDataBox struct {
	*box
	Data []byte
}

func parseItemDataBox(outer *box, br *bufReader) (Box, error) {
	data, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	return &ItemDataBox{box: outer, Data: data}, nil
}

// DataInformationBox is a "dinf" box.
type DataInformationBox struct {
	*box
	Children []Box
}

func parseDataInformationBox(outer *box, br *bufReader) (Box, error) {
	dib := &DataInformationBox{box: outer}
	return dib, br.parseAppendBoxes(&dib.Children)
}

// DataReferenceBox is a "dref" box.
type DataReferenceBox struct {
	FullBox
	EntryCount uint32
	Children   []Box
}

func parseDataReferenceBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	drb := &DataReferenceBox{FullBox: fb}
	drb.EntryCount, _ = br.readUint32()
	return drb, br.parseAppendBoxes(&drb.Children)
}

// DataEntryURLBox is a "url " box. A set self-contained flag (flags
// bit 0) means the data lives in this file and Location is absent.
type DataEntryURLBox struct {
	FullBox
	Location string
}

func parseDataEntryURLBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return nil, err
	}
	ub := &DataEntryURLBox{FullBox: fb}
	if br.anyRemain() {
		ub.Location, _ = br.readString()
	}
	return ub, br.err
}

// EntityGroup is one entity-to-group mapping from a "grpl" box.
// Not a box.
type EntityGroup struct {
	Type      BoxType
	GroupID   uint32
	EntityIDs []uint32
}

// GroupListBox is a "grpl" box.
type GroupListBox struct {
	*box
	Groups []EntityGroup
}

func parseGroupListBox(outer *box, br *bufReader) (Box, error) {
	glb := &GroupListBox{box: outer}
	var children []Box
	if err := br.parseAppendBoxes(&children); err != nil {
		return nil, err
	}
	for _, c := range children {
		gbr := &bufReader{Reader: newBufioReader(c.Body())}
		if _, err := readFullBox(c.(*box), gbr); err != nil {
			return nil, err
		}
		g := EntityGroup{Type: c.Type()}
		g.GroupID, _ = gbr.readUint32()
		n, _ := gbr.readUint32()
		for i := uint32(0); i < n && gbr.ok(); i++ {
			id, _ := gbr.readUint32()
			g.EntityIDs = append(g.EntityIDs, id)
		}
		if !gbr.ok() {
			return nil, gbr.err
		}
		glb.Groups = append(glb.Groups, g)
	}
	return glb, nil
}
