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

// Package bmff reads ISO BMFF boxes, as used by HEIF, etc.
//
// This is not so much a generic BMFF reader as it is a BMFF reader as
// needed by HEIF: only the boxes required to demux a HEIF image item
// tree have explicit parsers, everything else is retained as an opaque
// box. All integers are big-endian per ISO/IEC 14496-12.
package bmff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Security limits applied during parsing. Malformed files must not be
// able to make the parser allocate unbounded memory.
const (
	MaxChildrenPerBox     = 1024
	MaxIlocItems          = 1024
	MaxIlocExtentsPerItem = 32
)

// ErrUnknownBox is returned by Box.Parse for unrecognized box types.
var ErrUnknownBox = errors.New("bmff: unknown box")

func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{br: bufReader{Reader: br}}
}

// Reader reads a sequence of sibling boxes from a byte stream.
type Reader struct {
	br          bufReader
	lastBox     Box  // or nil
	noMoreBoxes bool // a box with size 0 (the final box) was seen
}

// BoxType is a four-character box or item type code.
type BoxType [4]byte

// Common box types.
var (
	TypeFtyp = boxType("ftyp")
	TypeMeta = boxType("meta")
	TypeMdat = boxType("mdat")
	TypeUUID = boxType("uuid")
)

func (t BoxType) String() string { return string(t[:]) }

func (t BoxType) EqualString(s string) bool {
	// See https://github.com/golang/go/issues/24765
	return len(s) == 4 && s[0] == t[0] && s[1] == t[1] && s[2] == t[2] && s[3] == t[3]
}

func boxType(s string) BoxType {
	if len(s) != 4 {
		panic("bogus boxType length")
	}
	return BoxType{s[0], s[1], s[2], s[3]}
}

// Box represents a BMFF box.
type Box interface {
	Size() int64 // 0 means unknown (will read to end of enclosing range)
	Type() BoxType

	// Parse parses the box, populating the fields in the returned
	// concrete type.
	//
	// If Parse has already been called, Parse returns the prior result.
	// If the box type is unknown, the returned error is ErrUnknownBox
	// and it's guaranteed that no bytes have been read from the box.
	Parse() (Box, error)

	// Body returns the inner bytes of the box, ignoring the header.
	Body() io.Reader
}

type parserFunc func(b *box, br *bufReader) (Box, error)

var parsers = map[BoxType]parserFunc{
	boxType("auxC"): parseAuxiliaryTypeProperty,
	boxType("clap"): parseCleanApertureBox,
	boxType("dinf"): parseDataInformationBox,
	boxType("dref"): parseDataReferenceBox,
	boxType("ftyp"): parseFileTypeBox,
	boxType("grpl"): parseGroupListBox,
	boxType("hdlr"): parseHandlerBox,
	boxType("hvcC"): parseHevcConfigurationBox,
	boxType("idat"): parseItemDataBox,
	boxType("iinf"): parseItemInfoBox,
	boxType("iloc"): parseItemLocationBox,
	boxType("imir"): parseImageMirror,
	boxType("infe"): parseItemInfoEntry,
	boxType("ipco"): parseItemPropertyContainerBox,
	boxType("ipma"): parseItemPropertyAssociation,
	boxType("iprp"): parseItemPropertiesBox,
	boxType("iref"): parseItemReferenceBox,
	boxType("irot"): parseImageRotation,
	boxType("ispe"): parseImageSpatialExtentsProperty,
	boxType("meta"): parseMetaBox,
	boxType("pitm"): parsePrimaryItemBox,
	boxType("url "): parseDataEntryURLBox,
}

type box struct {
	size       int64 // total declared size; 0 means read to end of enclosing range
	headerSize int64
	boxType    BoxType
	uuid       [16]byte // if boxType == "uuid"
	hasUUID    bool
	body       io.Reader
	parsed     Box    // if non-nil, the Parse result
	slurp      []byte // if non-nil, the contents slurped to memory
}

func (b *box) Size() int64   { return b.size }
func (b *box) Type() BoxType { return b.boxType }

// UUID returns the 16-byte extended type of a "uuid" box.
func (b *box) UUID() ([16]byte, bool) { return b.uuid, b.hasUUID }

func (b *box) Body() io.Reader {
	if b.slurp != nil {
		return bytes.NewReader(b.slurp)
	}
	return b.body
}

func (b *box) Parse() (Box, error) {
	if b.parsed != nil {
		return b.parsed, nil
	}
	parser, ok := parsers[b.Type()]
	if !ok {
		return nil, ErrUnknownBox
	}
	v, err := parser(b, &bufReader{Reader: bufio.NewReader(b.Body())})
	if err != nil {
		return nil, err
	}
	b.parsed = v
	return v, nil
}

// FullBox is the common header of boxes carrying a version and flags.
type FullBox struct {
	*box
	Version uint8
	Flags   uint32 // 24 bits
}

func readFullBox(outer *box, br *bufReader) (fb FullBox, err error) {
	fb.box = outer
	buf, err := br.Peek(4)
	if err != nil {
		return FullBox{}, fmt.Errorf("failed to read 4 bytes of FullBox: %v", err)
	}
	fb.Version = buf[0]
	fb.Flags = uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	br.Discard(4)
	return fb, nil
}

// ReadBox reads the next box.
//
// If the previously read box was not read to completion, ReadBox
// consumes the rest of its data first, so that an aborted or partial
// parse of one box never corrupts the position of its siblings.
//
// At the end of the enclosing range, the error is io.EOF.
func (r *Reader) ReadBox() (Box, error) {
	if r.noMoreBoxes {
		return nil, io.EOF
	}
	if r.lastBox != nil {
		if _, err := io.Copy(io.Discard, r.lastBox.Body()); err != nil {
			return nil, err
		}
	}
	var buf [8]byte

	_, err := io.ReadFull(r.br, buf[:4])
	if err != nil {
		return nil, err
	}
	b := &box{
		size:       int64(binary.BigEndian.Uint32(buf[:4])),
		headerSize: 8,
	}

	if _, err := io.ReadFull(r.br, b.boxType[:]); err != nil {
		return nil, err
	}

	if b.size == 1 {
		// 64-bit extended size follows the type.
		if _, err := io.ReadFull(r.br, buf[:8]); err != nil {
			return nil, err
		}
		b.size = int64(binary.BigEndian.Uint64(buf[:8]))
		if b.size < 0 {
			// BMFF uses uint64; assume nobody needs boxes larger than int64.
			return nil, fmt.Errorf("bmff: unexpectedly large box %q", b.boxType)
		}
		b.headerSize += 8
	}

	if b.boxType == TypeUUID {
		if _, err := io.ReadFull(r.br, b.uuid[:]); err != nil {
			return nil, err
		}
		b.hasUUID = true
		b.headerSize += 16
	}

	if b.size == 0 {
		// Unknown size: read to end of the enclosing range. No more
		// boxes can follow.
		r.noMoreBoxes = true
		b.body = r.br
	} else {
		remain := b.size - b.headerSize
		if remain < 0 {
			return nil, fmt.Errorf("bmff: box %q with size %d smaller than its %d byte header", b.boxType, b.size, b.headerSize)
		}
		b.body = io.LimitReader(r.br, remain)
	}
	r.lastBox = b
	return b, nil
}

// ReadAndParseBox wraps the ReadBox method, ensuring that the read box
// is of type typ and parses successfully. It returns the parsed box.
func (r *Reader) ReadAndParseBox(typ BoxType) (Box, error) {
	b, err := r.ReadBox()
	if err != nil {
		return nil, fmt.Errorf("error reading %q box: %v", typ, err)
	}
	if b.Type() != typ {
		return nil, fmt.Errorf("error reading %q box: got box type %q instead", typ, b.Type())
	}
	pbox, err := b.Parse()
	if err != nil {
		return nil, fmt.Errorf("error parsing read %q box: %v", typ, err)
	}
	return pbox, nil
}

func newBufioReader(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

// bufReader adds some HEIF/BMFF-specific methods around a *bufio.Reader.
// A read past the end of the underlying range records a sticky error
// and yields a zero value; all subsequent reads do the same.
type bufReader struct {
	*bufio.Reader
	err error // sticky error
}

// ok reports whether all previous reads have been error-free.
func (br *bufReader) ok() bool { return br.err == nil }

func (br *bufReader) anyRemain() bool {
	if br.err != nil {
		return false
	}
	_, err := br.Peek(1)
	return err == nil
}

// readUintN reads a big-endian unsigned integer of 0, 8, 16, 32 or 64
// bits. Width 0 reads nothing and yields 0, as used by iloc fields
// whose declared size is zero.
func (br *bufReader) readUintN(bits uint8) (uint64, error) {
	if br.err != nil {
		return 0, br.err
	}
	if bits == 0 {
		return 0, nil
	}
	nbyte := int(bits / 8)
	buf, err := br.Peek(nbyte)
	if err != nil {
		br.err = err
		return 0, err
	}
	defer br.Discard(nbyte)
	switch bits {
	case 8:
		return uint64(buf[0]), nil
	case 16:
		return uint64(binary.BigEndian.Uint16(buf[:2])), nil
	case 32:
		return uint64(binary.BigEndian.Uint32(buf[:4])), nil
	case 64:
		return binary.BigEndian.Uint64(buf[:8]), nil
	default:
		br.err = fmt.Errorf("bmff: invalid uintN read size %d", bits)
		return 0, br.err
	}
}

func (br *bufReader) readUint8() (uint8, error) {
	if br.err != nil {
		return 0, br.err
	}
	v, err := br.ReadByte()
	if err != nil {
		br.err = err
		return 0, err
	}
	return v, nil
}

func (br *bufReader) readUint16() (uint16, error) {
	if br.err != nil {
		return 0, br.err
	}
	buf, err := br.Peek(2)
	if err != nil {
		br.err = err
		return 0, err
	}
	v := binary.BigEndian.Uint16(buf[:2])
	br.Discard(2)
	return v, nil
}

func (br *bufReader) readUint32() (uint32, error) {
	if br.err != nil {
		return 0, br.err
	}
	buf, err := br.Peek(4)
	if err != nil {
		br.err = err
		return 0, err
	}
	v := binary.BigEndian.Uint32(buf[:4])
	br.Discard(4)
	return v, nil
}

func (br *bufReader) readFourCC() (BoxType, error) {
	var t BoxType
	if br.err != nil {
		return t, br.err
	}
	buf, err := br.Peek(4)
	if err != nil {
		br.err = err
		return t, err
	}
	copy(t[:], buf[:4])
	br.Discard(4)
	return t, nil
}

// readString reads a NUL-terminated string. The length is bounded by
// the enclosing box range.
func (br *bufReader) readString() (string, error) {
	if br.err != nil {
		return "", br.err
	}
	s0, err := br.ReadString(0)
	if err != nil {
		br.err = err
		return "", err
	}
	s := strings.TrimSuffix(s0, "\x00")
	if len(s) == len(s0) {
		err = fmt.Errorf("bmff: unexpected non-null terminated string")
		br.err = err
		return "", err
	}
	return s, nil
}

func (br *bufReader) readBytes(n int) ([]byte, error) {
	if br.err != nil {
		return nil, br.err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		br.err = err
		return nil, err
	}
	return buf, nil
}

// parseAppendBoxes reads the remaining child boxes of the current range
// and appends them, with their contents slurped, to dst.
func (br *bufReader) parseAppendBoxes(dst *[]Box) error {
	if br.err != nil {
		return br.err
	}
	boxr := NewReader(br.Reader)
	for {
		inner, err := boxr.ReadBox()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			br.err = err
			return err
		}
		if len(*dst) >= MaxChildrenPerBox {
			br.err = fmt.Errorf("%w: more than %d child boxes", ErrSecurityLimit, MaxChildrenPerBox)
			return br.err
		}
		slurp, err := io.ReadAll(inner.Body())
		if err != nil {
			br.err = err
			return err
		}
		inner.(*box).slurp = slurp
		*dst = append(*dst, inner)
	}
}
