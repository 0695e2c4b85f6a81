//go:build !linux

package source

import (
	"fmt"

	"firestige.xyz/strix/internal/codec"
)

// OpenAFPacket is only available on Linux.
func OpenAFPacket(device string, bufferSizeMB int, opts LiveOptions, dec *codec.Decoder) (Source, error) {
	return nil, fmt.Errorf("af_packet capture is not supported on this platform")
}
