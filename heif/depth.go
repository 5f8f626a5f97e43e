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

import "math"

// DepthRepresentationType is the depth encoding declared by a
// depth-representation SEI message.
type DepthRepresentationType int

const (
	DepthRepresentationUniformInverseZ DepthRepresentationType = iota
	DepthRepresentationUniformDisparity
	DepthRepresentationUniformZ
	DepthRepresentationNonuniformDisparity
)

// DepthRepresentationInfo is the parsed depth-representation SEI of a
// depth auxiliary image. A value whose exponent field is 127 is
// "unspecified"; the corresponding Undefined flag is set and the value
// is zero.
type DepthRepresentationInfo struct {
	Version uint8

	HasZNear bool
	HasZFar  bool
	HasDMin  bool
	HasDMax  bool

	ZNear, ZFar, DMin, DMax float64

	ZNearUndefined bool
	ZFarUndefined  bool
	DMinUndefined  bool
	DMaxUndefined  bool

	RepresentationType     DepthRepresentationType
	DisparityReferenceView uint32
}

// bitReader reads MSB-first bit fields from a byte slice. Reads past
// the end yield zero bits.
type bitReader struct {
	data   []byte
	bitPos int
}

func (r *bitReader) getBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		byteIdx := r.bitPos >> 3
		var bit uint32
		if byteIdx < len(r.data) {
			bit = uint32(r.data[byteIdx]>>(7-uint(r.bitPos&7))) & 1
		}
		v = v<<1 | bit
		r.bitPos += 1
	}
	return v
}

func (r *bitReader) skipBits(n int) { r.bitPos += n }

func (r *bitReader) byteIndex() int { return r.bitPos >> 3 }

// getUvlc reads an unsigned Exp-Golomb code. It reports false when no
// terminating bit is found within the data.
func (r *bitReader) getUvlc() (uint32, bool) {
	zeros := 0
	for r.getBits(1) == 0 {
		zeros++
		if zeros > 32 || r.byteIndex() >= len(r.data) {
			return 0, false
		}
	}
	if zeros == 0 {
		return 0, true
	}
	return 1<<uint(zeros) - 1 + r.getBits(zeros), true
}

// readDepthRepInfoElement decodes one depth-representation mini-float:
// a sign bit, a 7-bit exponent and a 1..32-bit mantissa. Exponent 127
// means the value is unspecified.
func readDepthRepInfoElement(r *bitReader) (value float64, undefined bool) {
	sign := r.getBits(1)
	exponent := int(r.getBits(7))
	mantissaLen := int(r.getBits(5)) + 1
	mantissa := r.getBits(mantissaLen)

	if exponent == 127 {
		return 0, true
	}

	if exponent > 0 {
		value = math.Pow(2, float64(exponent-31)) *
			(1 + float64(mantissa)/math.Pow(2, float64(mantissaLen)))
	} else {
		value = math.Pow(2, float64(-(30+mantissaLen))) * float64(mantissa)
	}
	if sign != 0 {
		value = -value
	}
	return value, false
}

func parseDepthRepresentationInfo(r *bitReader) (*DepthRepresentationInfo, error) {
	info := &DepthRepresentationInfo{Version: 1}

	info.HasZNear = r.getBits(1) != 0
	info.HasZFar = r.getBits(1) != 0
	info.HasDMin = r.getBits(1) != 0
	info.HasDMax = r.getBits(1) != 0

	repType, ok := r.getUvlc()
	if !ok {
		return nil, invalidInput(SuberrorEndOfData, "truncated depth-representation SEI")
	}
	info.RepresentationType = DepthRepresentationType(repType)

	if info.HasDMin || info.HasDMax {
		refView, ok := r.getUvlc()
		if !ok {
			return nil, invalidInput(SuberrorEndOfData, "truncated depth-representation SEI")
		}
		info.DisparityReferenceView = refView
	}

	if info.HasZNear {
		info.ZNear, info.ZNearUndefined = readDepthRepInfoElement(r)
	}
	if info.HasZFar {
		info.ZFar, info.ZFarUndefined = readDepthRepInfoElement(r)
	}
	if info.HasDMin {
		info.DMin, info.DMinUndefined = readDepthRepInfoElement(r)
	}
	if info.HasDMax {
		info.DMax, info.DMaxUndefined = readDepthRepInfoElement(r)
	}

	// Nonuniform disparity declares a response curve after the
	// elements. TODO: load the nonuniform model when a sample file
	// exercising it is available.

	return info, nil
}

// decodeHevcAuxSEIMessages scans the auxC subtype bytes, which hold a
// length-prefixed SEI NAL unit, for a depth-representation SEI
// (payload id 177). It returns nil when none is present. Only the
// first SEI message of the first NAL unit is inspected.
func decodeHevcAuxSEIMessages(data []byte) (*DepthRepresentationInfo, error) {
	if len(data) < 4 {
		return nil, nil
	}
	r := &bitReader{data: data}
	length := int(r.getBits(32))
	if length > len(data)-4 {
		return nil, invalidInput(SuberrorEndOfData,
			"SEI NAL length %d exceeds %d available bytes", length, len(data)-4)
	}

	sr := &bitReader{data: data[4:]}
	sr.skipBits(32) // NAL size
	nalType := uint8(sr.getBits(8) >> 1)
	sr.skipBits(8)

	if nalType != 39 && nalType != 40 {
		return nil, nil
	}

	payloadID := sr.getBits(8)
	sr.skipBits(8) // payload size

	if payloadID != 177 {
		return nil, nil
	}
	return parseDepthRepresentationInfo(sr)
}
