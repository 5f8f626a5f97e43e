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
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

// --- helpers to build synthetic box streams

func u16(v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b[:]
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func mkBox(typ string, parts ...[]byte) []byte {
	payload := cat(parts...)
	return cat(u32(uint32(8+len(payload))), []byte(typ), payload)
}

func mkFullBox(typ string, version uint8, flags uint32, parts ...[]byte) []byte {
	vf := []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
	return mkBox(typ, cat(vf, cat(parts...)))
}

func nulstr(s string) []byte { return append([]byte(s), 0) }

func readOne(t *testing.T, data []byte) Box {
	t.Helper()
	b, err := NewReader(bytes.NewReader(data)).ReadBox()
	if err != nil {
		t.Fatalf("ReadBox: %v", err)
	}
	return b
}

func parseOne(t *testing.T, data []byte) Box {
	t.Helper()
	pb, err := readOne(t, data).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return pb
}

func TestReadBoxHeader(t *testing.T) {
	c := qt.New(t)

	c.Run("plain", func(c *qt.C) {
		b := readOne(t, mkBox("free", []byte("abcd")))
		c.Assert(b.Type().String(), qt.Equals, "free")
		c.Assert(b.Size(), qt.Equals, int64(12))
		body, err := io.ReadAll(b.Body())
		c.Assert(err, qt.IsNil)
		c.Assert(string(body), qt.Equals, "abcd")
	})

	c.Run("extended size", func(c *qt.C) {
		data := cat(u32(1), []byte("free"), u64(16+4), []byte("abcd"))
		b := readOne(t, data)
		c.Assert(b.Size(), qt.Equals, int64(20))
		body, err := io.ReadAll(b.Body())
		c.Assert(err, qt.IsNil)
		c.Assert(string(body), qt.Equals, "abcd")
	})

	c.Run("uuid subtype", func(c *qt.C) {
		uuid := []byte("0123456789abcdef")
		data := cat(u32(8+16+2), []byte("uuid"), uuid, []byte("xy"))
		b := readOne(t, data)
		c.Assert(b.Type(), qt.Equals, TypeUUID)
		got, ok := b.(*box).UUID()
		c.Assert(ok, qt.Equals, true)
		c.Assert(got[:], qt.DeepEquals, uuid)
		body, err := io.ReadAll(b.Body())
		c.Assert(err, qt.IsNil)
		c.Assert(string(body), qt.Equals, "xy")
	})

	c.Run("size smaller than header", func(c *qt.C) {
		data := cat(u32(4), []byte("free"))
		_, err := NewReader(bytes.NewReader(data)).ReadBox()
		c.Assert(err, qt.Not(qt.IsNil))
	})

	c.Run("sibling after partially read box", func(c *qt.C) {
		data := cat(mkBox("skip", []byte("ignored")), mkBox("free", []byte("ok")))
		r := NewReader(bytes.NewReader(data))
		_, err := r.ReadBox() // never touch its body
		c.Assert(err, qt.IsNil)
		b, err := r.ReadBox()
		c.Assert(err, qt.IsNil)
		c.Assert(b.Type().String(), qt.Equals, "free")
		body, _ := io.ReadAll(b.Body())
		c.Assert(string(body), qt.Equals, "ok")
	})
}

func TestFileTypeBox(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkBox("ftyp", []byte("mif1"), u32(0), []byte("mif1"), []byte("heic")))
	ft, ok := pb.(*FileTypeBox)
	c.Assert(ok, qt.Equals, true)
	c.Assert(ft.MajorBrand, qt.Equals, "mif1")
	c.Assert(ft.Compatible, qt.DeepEquals, []string{"mif1", "heic"})
	c.Assert(ft.HasCompatibleBrand("heic"), qt.Equals, true)
	c.Assert(ft.HasCompatibleBrand("avif"), qt.Equals, false)
}

func TestUnknownBoxRetained(t *testing.T) {
	c := qt.New(t)
	meta := mkFullBox("meta", 0, 0,
		mkBox("zzZZ", []byte("opaque")),
		mkFullBox("pitm", 0, 0, u16(1)),
	)
	pb := parseOne(t, meta)
	mb := pb.(*MetaBox)
	c.Assert(mb.Children, qt.HasLen, 2)

	_, err := mb.Children[0].Parse()
	c.Assert(err, qt.Equals, ErrUnknownBox)
	body, _ := io.ReadAll(mb.Children[0].Body())
	c.Assert(string(body), qt.Equals, "opaque")

	p2, err := mb.Children[1].Parse()
	c.Assert(err, qt.IsNil)
	c.Assert(p2.(*PrimaryItemBox).ItemID, qt.Equals, uint32(1))
}

func TestChildBoxLimit(t *testing.T) {
	c := qt.New(t)
	var children []byte
	for i := 0; i < MaxChildrenPerBox+1; i++ {
		children = append(children, mkBox("free")...)
	}
	_, err := readOne(t, mkFullBox("meta", 0, 0, children)).Parse()
	c.Assert(errors.Is(err, ErrSecurityLimit), qt.Equals, true)
}

func TestPrimaryItemBoxVersions(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkFullBox("pitm", 0, 0, u16(7)))
	c.Assert(pb.(*PrimaryItemBox).ItemID, qt.Equals, uint32(7))

	pb = parseOne(t, mkFullBox("pitm", 1, 0, u32(70000)))
	c.Assert(pb.(*PrimaryItemBox).ItemID, qt.Equals, uint32(70000))
}

func TestHandlerBox(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkFullBox("hdlr", 0, 0,
		u32(0), []byte("pict"), make([]byte, 12), nulstr("handler")))
	hb := pb.(*HandlerBox)
	c.Assert(hb.HandlerType, qt.Equals, "pict")
	c.Assert(hb.Name, qt.Equals, "handler")
}

func TestItemInfoEntry(t *testing.T) {
	c := qt.New(t)

	c.Run("version 2", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("infe", 2, 0,
			u16(1), u16(0), []byte("hvc1"), nulstr("")))
		ie := pb.(*ItemInfoEntry)
		c.Assert(ie.ItemID, qt.Equals, uint32(1))
		c.Assert(ie.ItemType, qt.Equals, "hvc1")
		c.Assert(ie.Hidden, qt.Equals, false)
	})

	c.Run("version 3 hidden", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("infe", 3, 1,
			u32(65540), u16(0), []byte("grid"), nulstr("")))
		ie := pb.(*ItemInfoEntry)
		c.Assert(ie.ItemID, qt.Equals, uint32(65540))
		c.Assert(ie.ItemType, qt.Equals, "grid")
		c.Assert(ie.Hidden, qt.Equals, true)
	})

	c.Run("mime", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("infe", 2, 0,
			u16(3), u16(0), []byte("mime"), nulstr("xmp"),
			nulstr("application/rdf+xml"), nulstr("gzip")))
		ie := pb.(*ItemInfoEntry)
		c.Assert(ie.ContentType, qt.Equals, "application/rdf+xml")
		c.Assert(ie.ContentEncoding, qt.Equals, "gzip")
	})

	c.Run("uri", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("infe", 2, 0,
			u16(4), u16(0), []byte("uri "), nulstr(""), nulstr("urn:example:thing")))
		c.Assert(pb.(*ItemInfoEntry).ItemURIType, qt.Equals, "urn:example:thing")
	})
}

func TestItemInfoBox(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkFullBox("iinf", 0, 0, u16(2),
		mkFullBox("infe", 2, 0, u16(1), u16(0), []byte("hvc1"), nulstr("")),
		mkFullBox("infe", 2, 0, u16(2), u16(0), []byte("Exif"), nulstr("")),
	))
	ib := pb.(*ItemInfoBox)
	c.Assert(ib.Count, qt.Equals, uint32(2))
	c.Assert(ib.ItemInfos, qt.HasLen, 2)
	c.Assert(ib.ItemInfos[1].ItemType, qt.Equals, "Exif")
}

// ilocSizes builds the field-size nibbles of an iloc box.
func ilocSizes(offset, length, base, index uint8) []byte {
	return []byte{offset<<4 | length, base<<4 | index}
}

func TestItemLocationBox(t *testing.T) {
	c := qt.New(t)

	c.Run("version 0", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("iloc", 0, 0,
			ilocSizes(4, 4, 0, 0), u16(1),
			u16(5), u16(0), u16(2), // item 5, dri 0, 2 extents
			u32(100), u32(10),
			u32(200), u32(20),
		))
		ilb := pb.(*ItemLocationBox)
		c.Assert(ilb.Items, qt.HasLen, 1)
		ent := ilb.Items[0]
		c.Assert(ent.ItemID, qt.Equals, uint32(5))
		c.Assert(ent.Extents, qt.DeepEquals, []OffsetLength{
			{Offset: 100, Length: 10},
			{Offset: 200, Length: 20},
		})
	})

	c.Run("version 1 construction method and base offset", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("iloc", 1, 0,
			ilocSizes(4, 4, 8, 0), u16(1),
			u16(5), u16(1), u16(0), u64(1<<33), u16(1),
			u32(16), u32(8),
		))
		ent := pb.(*ItemLocationBox).Items[0]
		c.Assert(ent.ConstructionMethod, qt.Equals, uint8(1))
		c.Assert(ent.BaseOffset, qt.Equals, uint64(1<<33))
	})

	c.Run("version 2 extent index", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("iloc", 2, 0,
			ilocSizes(4, 4, 0, 4), u32(1),
			u32(5), u16(0), u16(0), u16(1),
			u32(9), u32(16), u32(8),
		))
		ent := pb.(*ItemLocationBox).Items[0]
		c.Assert(ent.Extents, qt.DeepEquals, []OffsetLength{
			{Index: 9, Offset: 16, Length: 8},
		})
	})

	c.Run("item count limit", func(c *qt.C) {
		_, err := readOne(t, mkFullBox("iloc", 0, 0,
			ilocSizes(4, 4, 0, 0), u16(MaxIlocItems+1))).Parse()
		c.Assert(errors.Is(err, ErrSecurityLimit), qt.Equals, true)
	})

	c.Run("extent count limit", func(c *qt.C) {
		_, err := readOne(t, mkFullBox("iloc", 0, 0,
			ilocSizes(4, 4, 0, 0), u16(1),
			u16(5), u16(0), u16(MaxIlocExtentsPerItem+1))).Parse()
		c.Assert(errors.Is(err, ErrSecurityLimit), qt.Equals, true)
	})
}

func TestItemPropertyAssociation(t *testing.T) {
	c := qt.New(t)

	c.Run("8-bit indexes", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("ipma", 0, 0, u32(1),
			u16(1), []byte{2}, []byte{0x80 | 1}, []byte{2}))
		ipa := pb.(*ItemPropertyAssociation)
		c.Assert(ipa.Entries, qt.HasLen, 1)
		c.Assert(ipa.Entries[0].ItemID, qt.Equals, uint32(1))
		c.Assert(ipa.Entries[0].Associations, qt.DeepEquals, []ItemProperty{
			{Essential: true, Index: 1},
			{Essential: false, Index: 2},
		})
	})

	c.Run("16-bit indexes", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("ipma", 1, 1, u32(1),
			u32(9), []byte{1}, u16(0x8000|300)))
		ipa := pb.(*ItemPropertyAssociation)
		c.Assert(ipa.Entries[0].ItemID, qt.Equals, uint32(9))
		c.Assert(ipa.Entries[0].Associations, qt.DeepEquals, []ItemProperty{
			{Essential: true, Index: 300},
		})
	})
}

func TestItemPropertiesBox(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkBox("iprp",
		mkBox("ipco",
			mkFullBox("ispe", 0, 0, u32(640), u32(480)),
			mkBox("irot", []byte{1}),
		),
		mkFullBox("ipma", 0, 0, u32(1), u16(1), []byte{2}, []byte{1}, []byte{2}),
	))
	ip := pb.(*ItemPropertiesBox)
	c.Assert(ip.PropertyContainer.Properties, qt.HasLen, 2)
	c.Assert(ip.Associations, qt.HasLen, 1)

	ispe, err := ip.PropertyContainer.Properties[0].Parse()
	c.Assert(err, qt.IsNil)
	c.Assert(ispe.(*ImageSpatialExtentsProperty).ImageWidth, qt.Equals, uint32(640))

	irot, err := ip.PropertyContainer.Properties[1].Parse()
	c.Assert(err, qt.IsNil)
	c.Assert(irot.(*ImageRotation).Angle, qt.Equals, uint16(90))
}

func TestItemReferenceBox(t *testing.T) {
	c := qt.New(t)

	c.Run("version 0", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("iref", 0, 0,
			mkBox("thmb", u16(2), u16(1), u16(1)),
			mkBox("dimg", u16(3), u16(2), u16(4), u16(5)),
		))
		ib := pb.(*ItemReferenceBox)
		c.Assert(ib.ItemRefs, qt.HasLen, 2)
		c.Assert(ib.ItemRefs[0].Type().String(), qt.Equals, "thmb")
		c.Assert(ib.ItemRefs[0].FromItemID, qt.Equals, uint32(2))
		c.Assert(ib.ItemRefs[0].ToItemIDs, qt.DeepEquals, []uint32{1})
		c.Assert(ib.ItemRefs[1].ToItemIDs, qt.DeepEquals, []uint32{4, 5})
	})

	c.Run("version 1", func(c *qt.C) {
		pb := parseOne(t, mkFullBox("iref", 1, 0,
			mkBox("cdsc", u32(70000), u16(1), u32(70001)),
		))
		ib := pb.(*ItemReferenceBox)
		c.Assert(ib.ItemRefs[0].FromItemID, qt.Equals, uint32(70000))
		c.Assert(ib.ItemRefs[0].ToItemIDs, qt.DeepEquals, []uint32{70001})
	})
}

func TestImageMirror(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkBox("imir", []byte{1}))
	c.Assert(pb.(*ImageMirror).Axis, qt.Equals, MirrorAxisHorizontal)
	pb = parseOne(t, mkBox("imir", []byte{0}))
	c.Assert(pb.(*ImageMirror).Axis, qt.Equals, MirrorAxisVertical)
}

func TestAuxiliaryTypeProperty(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkFullBox("auxC", 0, 0,
		nulstr("urn:mpeg:hevc:2015:auxid:1"), []byte{0xb1, 0x09}))
	ap := pb.(*AuxiliaryTypeProperty)
	c.Assert(ap.AuxType, qt.Equals, "urn:mpeg:hevc:2015:auxid:1")
	c.Assert(ap.Subtypes, qt.DeepEquals, []byte{0xb1, 0x09})
}

func TestItemDataBox(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkBox("idat", []byte{1, 2, 3, 4}))
	c.Assert(pb.(*ItemDataBox).Data, qt.DeepEquals, []byte{1, 2, 3, 4})
}

func TestGroupListBox(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkBox("grpl",
		mkFullBox("altr", 0, 0, u32(10), u32(2), u32(1), u32(2)),
	))
	glb := pb.(*GroupListBox)
	c.Assert(glb.Groups, qt.HasLen, 1)
	c.Assert(glb.Groups[0].Type.String(), qt.Equals, "altr")
	c.Assert(glb.Groups[0].GroupID, qt.Equals, uint32(10))
	c.Assert(glb.Groups[0].EntityIDs, qt.DeepEquals, []uint32{1, 2})
}

func TestDataReferenceBox(t *testing.T) {
	c := qt.New(t)
	pb := parseOne(t, mkBox("dinf",
		mkFullBox("dref", 0, 0, u32(1),
			mkFullBox("url ", 0, 1))))
	dib := pb.(*DataInformationBox)
	c.Assert(dib.Children, qt.HasLen, 1)
	drefp, err := dib.Children[0].Parse()
	c.Assert(err, qt.IsNil)
	dref := drefp.(*DataReferenceBox)
	c.Assert(dref.EntryCount, qt.Equals, uint32(1))
	urlp, err := dref.Children[0].Parse()
	c.Assert(err, qt.IsNil)
	c.Assert(urlp.(*DataEntryURLBox).Location, qt.Equals, "")
}

func TestHevcConfigurationBox(t *testing.T) {
	c := qt.New(t)

	vps := []byte{0x40, 0x01, 0x0c}
	sps := []byte{0x42, 0x01, 0x01, 0x02}
	pps := []byte{0x44, 0x01}

	cfg := cat(
		[]byte{1},       // configuration version
		[]byte{0x01},    // profile space/tier/idc
		u32(0x60000000), // profile compatibility
		make([]byte, 6), // constraint indicator flags
		[]byte{93},      // level idc
		u16(0xF000),     // min spatial segmentation
		[]byte{0},       // parallelism
		[]byte{1},       // chroma format 4:2:0
		[]byte{0},       // bit depth luma - 8
		[]byte{0},       // bit depth chroma - 8
		u16(0),          // avg frame rate
		[]byte{0x03},    // frame rate / layers / nested / length size 4
		[]byte{3},       // num arrays
		[]byte{0x80 | 32}, u16(1), u16(uint16(len(vps))), vps,
		[]byte{0x80 | 33}, u16(2), u16(0), u16(uint16(len(sps))), sps, // empty unit skipped
		[]byte{0x80 | 34}, u16(1), u16(uint16(len(pps))), pps,
	)

	pb := parseOne(t, mkBox("hvcC", cfg))
	hb := pb.(*HevcConfigurationBox)
	c.Assert(hb.Config.ConfigurationVersion, qt.Equals, uint8(1))
	c.Assert(hb.Config.ChromaFormat, qt.Equals, uint8(1))
	c.Assert(hb.Config.BitDepthLuma, qt.Equals, uint8(8))
	c.Assert(hb.Config.LengthSize, qt.Equals, uint8(4))
	c.Assert(hb.NalArrays, qt.HasLen, 3)

	// Every NAL unit appears exactly once, 4-byte length prefixed.
	want := cat(
		u32(uint32(len(vps))), vps,
		u32(uint32(len(sps))), sps,
		u32(uint32(len(pps))), pps,
	)
	c.Assert(hb.AsHeader(), qt.DeepEquals, want)
}

func TestDumpBox(t *testing.T) {
	meta := mkFullBox("meta", 0, 0,
		mkFullBox("hdlr", 0, 0, u32(0), []byte("pict"), make([]byte, 12), nulstr("")),
		mkFullBox("pitm", 0, 0, u16(1)),
	)
	dump := DumpBox(readOne(t, meta))
	for _, want := range []string{"Box: meta", "Box: hdlr", "handler_type: pict", "item_ID: 1"} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump does not contain %q:\n%s", want, dump)
		}
	}
}
