package speech

import (
	"encoding/binary"
	"fmt"
)

// ParseWAV walks the RIFF chunks of a WAV byte stream and returns the sample
// rate and decoded 16-bit mono samples.
func ParseWAV(data []byte) (uint32, []int16, error) {
	if len(data) < 44 {
		return 0, nil, fmt.Errorf("too small to be a WAV stream")
	}
	if string(data[0:4]) != "RIFF" {
		return 0, nil, fmt.Errorf("missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return 0, nil, fmt.Errorf("missing WAVE marker")
	}

	pos := 12
	var sampleRate uint32
	var bitsPerSample uint16 = 16
	var channels uint16 = 1
	var dataStart, dataSize int

	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && pos+24 <= len(data) {
				channels = binary.LittleEndian.Uint16(data[pos+10 : pos+12])
				sampleRate = binary.LittleEndian.Uint32(data[pos+12 : pos+16])
				bitsPerSample = binary.LittleEndian.Uint16(data[pos+22 : pos+24])
			}
		case "data":
			dataStart = pos + 8
			dataSize = chunkSize
		}

		pos += 8 + chunkSize
		if pos%2 != 0 {
			pos++ // chunks are word-aligned
		}
	}

	if sampleRate == 0 || dataStart == 0 {
		return 0, nil, fmt.Errorf("missing fmt or data chunk")
	}
	if bitsPerSample != 16 {
		return 0, nil, fmt.Errorf("unsupported bit depth %d", bitsPerSample)
	}
	if dataStart+dataSize > len(data) {
		dataSize = len(data) - dataStart
	}

	pcm := data[dataStart : dataStart+dataSize]
	n := len(pcm) / 2
	samples := make([]int16, 0, n)
	if channels <= 1 {
		for i := 0; i+1 < len(pcm); i += 2 {
			samples = append(samples, int16(binary.LittleEndian.Uint16(pcm[i:])))
		}
	} else {
		// Downmix to mono by taking the first channel.
		stride := int(channels) * 2
		for i := 0; i+1 < len(pcm); i += stride {
			samples = append(samples, int16(binary.LittleEndian.Uint16(pcm[i:])))
		}
	}
	return sampleRate, samples, nil
}
