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

// CompressionFormat identifies a coded bitstream family.
type CompressionFormat int

const (
	CompressionUndefined CompressionFormat = iota
	CompressionHEVC
	CompressionAVC
)

// DecoderPlugin is a decoder capability bundle. A context selects the
// plugin with the highest positive priority for a compression format;
// registration order does not affect selection.
type DecoderPlugin interface {
	// DoesSupportFormat returns a selection priority for the format.
	// Zero means the plugin cannot handle it.
	DoesSupportFormat(format CompressionFormat) int

	// NewDecoder returns a fresh decoder instance. The caller releases
	// it with Free on all paths.
	NewDecoder() (Decoder, error)
}

// Decoder is one decoder instance.
type Decoder interface {
	// Push feeds coded data: the length-prefixed parameter-set NAL
	// units followed by the coded extents.
	Push(data []byte) error

	// DecodeImage synchronously returns one decoded frame.
	DecodeImage() (*PixelImage, error)

	Free()
}

var defaultPlugins []DecoderPlugin

// RegisterDecoder adds a plugin to the default set used by contexts
// created afterwards. Contexts can carry their own set via
// WithDecoderPlugin.
func RegisterDecoder(p DecoderPlugin) {
	defaultPlugins = append(defaultPlugins, p)
}

func (c *Context) decoder(format CompressionFormat) DecoderPlugin {
	var best DecoderPlugin
	bestPriority := 0
	for _, p := range c.plugins {
		if priority := p.DoesSupportFormat(format); priority > bestPriority {
			bestPriority = priority
			best = p
		}
	}
	return best
}
