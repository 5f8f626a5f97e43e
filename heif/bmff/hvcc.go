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

import "io"

// HevcConfig holds the HEVCDecoderConfigurationRecord fields.
type HevcConfig struct {
	ConfigurationVersion             uint8
	GeneralProfileSpace              uint8
	GeneralTierFlag                  uint8
	GeneralProfileIdc                uint8
	GeneralProfileCompatibilityFlags uint32
	GeneralConstraintIndicatorFlags  [6]byte
	GeneralLevelIdc                  uint8
	MinSpatialSegmentationIdc        uint16
	ParallelismType                  uint8
	ChromaFormat                     uint8
	BitDepthLuma                     uint8
	BitDepthChroma                   uint8
	AvgFrameRate                     uint16
	ConstantFrameRate                uint8
	NumTemporalLayers                uint8
	TemporalIDNested                 uint8
	LengthSize                       uint8 // NAL length field size in bytes, 1..4
}

// HevcNalArray is one array of parameter-set NAL units.
type HevcNalArray struct {
	Completeness uint8
	UnitType     uint8
	Units        [][]byte
}

// HevcConfigurationBox is an "hvcC" property.
type HevcConfigurationBox struct {
	*box
	Config    HevcConfig
	NalArrays []*HevcNalArray
}

// AsHeader concatenates every parameter-set NAL unit, each prefixed
// with its 4-byte big-endian length, producing the header stream to
// feed a decoder before the coded extents.
func (hb *HevcConfigurationBox) AsHeader() []byte {
	var out []byte
	for _, na := range hb.NalArrays {
		for _, unit := range na.Units {
			n := len(unit)
			out = append(out,
				byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
			out = append(out, unit...)
		}
	}
	return out
}

func parseHevcConfigurationBox(outer *box, br *bufReader) (Box, error) {
	hb := &HevcConfigurationBox{box: outer}
	c := &hb.Config

	c.ConfigurationVersion, _ = br.readUint8()

	b, _ := br.readUint8()
	c.GeneralProfileSpace = (b >> 6) & 3
	c.GeneralTierFlag = (b >> 5) & 1
	c.GeneralProfileIdc = b & 0x1F

	c.GeneralProfileCompatibilityFlags, _ = br.readUint32()
	for i := 0; i < 6; i++ {
		c.GeneralConstraintIndicatorFlags[i], _ = br.readUint8()
	}

	c.GeneralLevelIdc, _ = br.readUint8()
	v16, _ := br.readUint16()
	c.MinSpatialSegmentationIdc = v16 & 0x0FFF
	b, _ = br.readUint8()
	c.ParallelismType = b & 0x03
	b, _ = br.readUint8()
	c.ChromaFormat = b & 0x03
	b, _ = br.readUint8()
	c.BitDepthLuma = (b & 0x07) + 8
	b, _ = br.readUint8()
	c.BitDepthChroma = (b & 0x07) + 8
	c.AvgFrameRate, _ = br.readUint16()

	b, _ = br.readUint8()
	c.ConstantFrameRate = (b >> 6) & 0x03
	c.NumTemporalLayers = (b >> 3) & 0x07
	c.TemporalIDNested = (b >> 2) & 1
	c.LengthSize = (b & 0x03) + 1

	numArrays, err := br.readUint8()
	if err != nil {
		return nil, err
	}

	for i := 0; i < int(numArrays); i++ {
		b, _ := br.readUint8()

		na := &HevcNalArray{
			Completeness: (b >> 6) & 1,
			UnitType:     b & 0x3F,
		}

		numUnits, _ := br.readUint16()
		for j := 0; j < int(numUnits); j++ {
			size, _ := br.readUint16()
			if size == 0 { // ignore empty NAL units
				continue
			}
			unit := make([]byte, size)
			if _, err := io.ReadFull(br, unit); err != nil {
				return nil, err
			}
			na.Units = append(na.Units, unit)
		}

		hb.NalArrays = append(hb.NalArrays, na)
	}

	if !br.ok() {
		return nil, br.err
	}
	return hb, nil
}
