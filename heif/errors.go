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

import "fmt"

// Code is the coarse error kind.
type Code int

const (
	CodeOk Code = iota
	CodeInvalidInput
	CodeUnsupportedFiletype
	CodeUnsupportedFeature
	CodeUsageError
	CodeMemoryAllocation
	CodeDecoderPluginError
)

func (c Code) String() string {
	switch c {
	case CodeOk:
		return "ok"
	case CodeInvalidInput:
		return "invalid input"
	case CodeUnsupportedFiletype:
		return "unsupported file type"
	case CodeUnsupportedFeature:
		return "unsupported feature"
	case CodeUsageError:
		return "usage error"
	case CodeMemoryAllocation:
		return "memory allocation error"
	case CodeDecoderPluginError:
		return "decoder plugin error"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Suberror refines a Code.
type Suberror int

const (
	SuberrorUnspecified Suberror = iota

	// CodeInvalidInput
	SuberrorNoFtypBox
	SuberrorNoMetaBox
	SuberrorNoHdlrBox
	SuberrorNoPictHandler
	SuberrorNoPitmBox
	SuberrorNoIprpBox
	SuberrorNoIpcoBox
	SuberrorNoIpmaBox
	SuberrorNoIlocBox
	SuberrorNoIinfBox
	SuberrorNoInfeBox
	SuberrorNoIdatBox
	SuberrorNoIrefBox
	SuberrorNoHvcCBox
	SuberrorNoItemData
	SuberrorInvalidBoxSize
	SuberrorInvalidGridData
	SuberrorMissingGridImages
	SuberrorInvalidOverlayData
	SuberrorInvalidCleanAperture
	SuberrorNonexistingImageReferenced
	SuberrorNoPropertiesAssignedToItem
	SuberrorIpmaReferencesNonexistingProperty
	SuberrorEndOfData
	SuberrorAuxiliaryImageTypeUnspecified
	SuberrorNoOrInvalidPrimaryImage
	SuberrorOverlayImageOutsideOfCanvas

	// CodeUnsupportedFeature
	SuberrorUnsupportedCodec
	SuberrorUnsupportedImageType
	SuberrorUnsupportedDataVersion
	SuberrorUnsupportedColorConversion
	SuberrorUnsupportedConstructionMethod

	// CodeUsageError
	SuberrorNonexistingImageID
	SuberrorIndexOutOfRange
	SuberrorNullPointerArgument

	// CodeMemoryAllocation
	SuberrorSecurityLimitExceeded
)

// Error is a structured error value: a coarse kind, a specific
// sub-kind and a free-form message.
type Error struct {
	Code    Code
	Sub     Suberror
	Message string
}

func (e Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("heif: %s (%d.%d)", e.Code, int(e.Code), int(e.Sub))
	}
	return fmt.Sprintf("heif: %s: %s", e.Code, e.Message)
}

// Is matches by Code, and by Sub unless the target leaves it
// unspecified. It lets callers test errors.Is(err,
// heif.Error{Code: heif.CodeInvalidInput}) without knowing the message.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Sub == SuberrorUnspecified || t.Sub == e.Sub
}

func newError(code Code, sub Suberror, format string, args ...interface{}) Error {
	return Error{Code: code, Sub: sub, Message: fmt.Sprintf(format, args...)}
}

func invalidInput(sub Suberror, format string, args ...interface{}) Error {
	return newError(CodeInvalidInput, sub, format, args...)
}

func usageError(sub Suberror, format string, args ...interface{}) Error {
	return newError(CodeUsageError, sub, format, args...)
}

func unsupported(sub Suberror, format string, args ...interface{}) Error {
	return newError(CodeUnsupportedFeature, sub, format, args...)
}

func securityLimit(format string, args ...interface{}) Error {
	return newError(CodeMemoryAllocation, SuberrorSecurityLimitExceeded, format, args...)
}
