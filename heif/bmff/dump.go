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
	"fmt"
	"strings"
)

// DumpBox returns a human-readable, indented description of a box and
// its children, for debugging.
func DumpBox(b Box) string {
	var sb strings.Builder
	dumpBox(&sb, b, 0)
	return sb.String()
}

func dumpBox(sb *strings.Builder, b Box, depth int) {
	ind := strings.Repeat("  ", depth)

	pb, err := b.Parse()
	if err != nil {
		if raw, ok := b.(*box); ok && raw.hasUUID {
			fmt.Fprintf(sb, "%sBox: uuid %x -----\n%ssize: %d\n", ind, raw.uuid, ind, b.Size())
			return
		}
		fmt.Fprintf(sb, "%sBox: %s -----\n%ssize: %d\n", ind, b.Type(), ind, b.Size())
		return
	}

	fmt.Fprintf(sb, "%sBox: %s -----\n%ssize: %d\n", ind, b.Type(), ind, b.Size())
	if fb, ok := fullBoxOf(pb); ok {
		fmt.Fprintf(sb, "%sversion: %d\n%sflags: %x\n", ind, fb.Version, ind, fb.Flags)
	}

	switch v := pb.(type) {
	case *FileTypeBox:
		fmt.Fprintf(sb, "%smajor brand: %s\n%sminor version: %s\n%scompatible brands: %s\n",
			ind, v.MajorBrand, ind, v.MinorVersion, ind, strings.Join(v.Compatible, ","))
	case *MetaBox:
		dumpChildren(sb, v.Children, depth)
	case *HandlerBox:
		fmt.Fprintf(sb, "%shandler_type: %s\n%sname: %s\n", ind, v.HandlerType, ind, v.Name)
	case *PrimaryItemBox:
		fmt.Fprintf(sb, "%sitem_ID: %d\n", ind, v.ItemID)
	case *ItemInfoBox:
		for _, ie := range v.ItemInfos {
			dumpBox(sb, ie, depth+1)
		}
	case *ItemInfoEntry:
		fmt.Fprintf(sb, "%sitem_ID: %d\n%sitem_type: %s\n%sitem_name: %s\n%shidden item: %t\n",
			ind, v.ItemID, ind, v.ItemType, ind, v.Name, ind, v.Hidden)
		if v.ContentType != "" {
			fmt.Fprintf(sb, "%scontent_type: %s\n", ind, v.ContentType)
		}
		if v.ItemURIType != "" {
			fmt.Fprintf(sb, "%sitem uri type: %s\n", ind, v.ItemURIType)
		}
	case *ItemLocationBox:
		for _, item := range v.Items {
			fmt.Fprintf(sb, "%sitem ID: %d\n%s  construction method: %d\n%s  base_offset: %d\n%s  extents: ",
				ind, item.ItemID, ind, item.ConstructionMethod, ind, item.BaseOffset, ind)
			for _, e := range item.Extents {
				fmt.Fprintf(sb, "%d,%d ", e.Offset, e.Length)
			}
			sb.WriteString("\n")
		}
	case *ItemPropertiesBox:
		dumpBox(sb, v.PropertyContainer, depth+1)
		for _, a := range v.Associations {
			dumpBox(sb, a, depth+1)
		}
	case *ItemPropertyContainerBox:
		dumpChildren(sb, v.Properties, depth)
	case *ItemPropertyAssociation:
		for _, e := range v.Entries {
			fmt.Fprintf(sb, "%sassociations for item ID: %d\n", ind, e.ItemID)
			for _, a := range e.Associations {
				fmt.Fprintf(sb, "%s  property index: %d (essential: %t)\n", ind, a.Index, a.Essential)
			}
		}
	case *ItemReferenceBox:
		for _, r := range v.ItemRefs {
			fmt.Fprintf(sb, "%sreference with type '%s' from ID: %d to IDs: %v\n",
				ind, r.Type(), r.FromItemID, r.ToItemIDs)
		}
	case *ImageSpatialExtentsProperty:
		fmt.Fprintf(sb, "%simage width: %d\n%simage height: %d\n", ind, v.ImageWidth, ind, v.ImageHeight)
	case *ImageRotation:
		fmt.Fprintf(sb, "%srotation: %d degrees (CCW)\n", ind, v.Angle)
	case *ImageMirror:
		fmt.Fprintf(sb, "%smirror axis: %s\n", ind, v.Axis)
	case *CleanApertureBox:
		fmt.Fprintf(sb, "%sclean_aperture: %s x %s\n%soffset: %s ; %s\n",
			ind, v.Width, v.Height, ind, v.HorizontalOffset, v.VerticalOffset)
	case *AuxiliaryTypeProperty:
		fmt.Fprintf(sb, "%saux type: %s\n%saux subtypes: %x\n", ind, v.AuxType, ind, v.Subtypes)
	case *HevcConfigurationBox:
		c := v.Config
		fmt.Fprintf(sb, "%sconfiguration_version: %d\n%sgeneral_profile_idc: %d\n%sgeneral_level_idc: %d\n%schroma_format: %d\n%sbit_depth_luma: %d\n%sbit_depth_chroma: %d\n%slength_size: %d\n",
			ind, c.ConfigurationVersion, ind, c.GeneralProfileIdc, ind, c.GeneralLevelIdc,
			ind, c.ChromaFormat, ind, c.BitDepthLuma, ind, c.BitDepthChroma, ind, c.LengthSize)
		for _, na := range v.NalArrays {
			fmt.Fprintf(sb, "%s<array completeness=%d type=%d units=%d>\n",
				ind, na.Completeness, na.UnitType, len(na.Units))
		}
	case *ItemDataBox:
		fmt.Fprintf(sb, "%snumber of data bytes: %d\n", ind, len(v.Data))
	case *DataInformationBox:
		dumpChildren(sb, v.Children, depth)
	case *DataReferenceBox:
		dumpChildren(sb, v.Children, depth)
	case *DataEntryURLBox:
		fmt.Fprintf(sb, "%slocation: %s\n", ind, v.Location)
	case *GroupListBox:
		for _, g := range v.Groups {
			fmt.Fprintf(sb, "%sgroup type: %s\n%s| group id: %d\n%s| entity IDs: %v\n",
				ind, g.Type, ind, g.GroupID, ind, g.EntityIDs)
		}
	}
}

func dumpChildren(sb *strings.Builder, children []Box, depth int) {
	for _, c := range children {
		dumpBox(sb, c, depth+1)
	}
}

func fullBoxOf(b Box) (FullBox, bool) {
	switch v := b.(type) {
	case *MetaBox:
		return v.FullBox, true
	case *HandlerBox:
		return v.FullBox, true
	case *PrimaryItemBox:
		return v.FullBox, true
	case *ItemInfoBox:
		return v.FullBox, true
	case *ItemInfoEntry:
		return v.FullBox, true
	case *ItemLocationBox:
		return v.FullBox, true
	case *ItemPropertyAssociation:
		return v.FullBox, true
	case *ItemReferenceBox:
		return v.FullBox, true
	case *ImageSpatialExtentsProperty:
		return v.FullBox, true
	case *AuxiliaryTypeProperty:
		return v.FullBox, true
	case *DataReferenceBox:
		return v.FullBox, true
	case *DataEntryURLBox:
		return v.FullBox, true
	}
	return FullBox{}, false
}
