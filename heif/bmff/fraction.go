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

import "fmt"

// Fraction is a signed rational number, used by the clean-aperture
// property. Denominators are expected to be positive.
type Fraction struct {
	Numerator   int32
	Denominator int32
}

func (f Fraction) Add(b Fraction) Fraction {
	if f.Denominator == b.Denominator {
		return Fraction{f.Numerator + b.Numerator, f.Denominator}
	}
	return Fraction{
		f.Numerator*b.Denominator + b.Numerator*f.Denominator,
		f.Denominator * b.Denominator,
	}
}

func (f Fraction) Sub(b Fraction) Fraction {
	if f.Denominator == b.Denominator {
		return Fraction{f.Numerator - b.Numerator, f.Denominator}
	}
	return Fraction{
		f.Numerator*b.Denominator - b.Numerator*f.Denominator,
		f.Denominator * b.Denominator,
	}
}

// SubInt subtracts the integer v.
func (f Fraction) SubInt(v int32) Fraction {
	return Fraction{f.Numerator - v*f.Denominator, f.Denominator}
}

// DivInt divides by the integer v.
func (f Fraction) DivInt(v int32) Fraction {
	return Fraction{f.Numerator, f.Denominator * v}
}

// RoundDown truncates towards zero.
func (f Fraction) RoundDown() int32 {
	return f.Numerator / f.Denominator
}

// RoundUp rounds towards positive infinity.
func (f Fraction) RoundUp() int32 {
	q := f.Numerator / f.Denominator
	if f.Numerator%f.Denominator > 0 {
		q++
	}
	return q
}

// Round returns (n + d/2) / d with truncating integer division. For
// non-negative values this rounds to nearest with ties rounded up; for
// negative values the truncation moves the result towards zero
// (-99/2 rounds to -49, -5/4 to 0).
func (f Fraction) Round() int32 {
	return (f.Numerator + f.Denominator/2) / f.Denominator
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

// CleanApertureBox is a "clap" property.
type CleanApertureBox struct {
	*box
	Width            Fraction
	Height           Fraction
	HorizontalOffset Fraction
	VerticalOffset   Fraction
}

func parseCleanApertureBox(outer *box, br *bufReader) (Box, error) {
	cb := &CleanApertureBox{box: outer}
	for _, f := range []*Fraction{&cb.Width, &cb.Height, &cb.HorizontalOffset, &cb.VerticalOffset} {
		num, _ := br.readUint32()
		den, err := br.readUint32()
		if err != nil {
			return nil, err
		}
		f.Numerator = int32(num)
		f.Denominator = int32(den)
	}
	return cb, nil
}

// The clean aperture is centered at pcX = horizOff + (width-1)/2 and
// extends (clapWidth-1)/2 to either side; likewise vertically.

func (cb *CleanApertureBox) LeftRounded(imageWidth int32) int32 {
	pcX := cb.HorizontalOffset.Add(Fraction{imageWidth - 1, 2})
	return pcX.Sub(cb.Width.SubInt(1).DivInt(2)).Round()
}

func (cb *CleanApertureBox) RightRounded(imageWidth int32) int32 {
	pcX := cb.HorizontalOffset.Add(Fraction{imageWidth - 1, 2})
	return pcX.Add(cb.Width.SubInt(1).DivInt(2)).Round()
}

func (cb *CleanApertureBox) TopRounded(imageHeight int32) int32 {
	pcY := cb.VerticalOffset.Add(Fraction{imageHeight - 1, 2})
	return pcY.Sub(cb.Height.SubInt(1).DivInt(2)).Round()
}

func (cb *CleanApertureBox) BottomRounded(imageHeight int32) int32 {
	pcY := cb.VerticalOffset.Add(Fraction{imageHeight - 1, 2})
	return pcY.Add(cb.Height.SubInt(1).DivInt(2)).Round()
}

// WidthRounded returns the aperture width implied by the width
// fraction alone, independent of the image size.
func (cb *CleanApertureBox) WidthRounded() int32 {
	half := cb.Width.SubInt(1).DivInt(2)
	left := Fraction{0, 1}.Sub(half).Round()
	right := half.Round()
	return right + 1 - left
}

// HeightRounded returns the aperture height implied by the height
// fraction alone, independent of the image size.
func (cb *CleanApertureBox) HeightRounded() int32 {
	half := cb.Height.SubInt(1).DivInt(2)
	top := Fraction{0, 1}.Sub(half).Round()
	bottom := half.Round()
	return bottom + 1 - top
}
