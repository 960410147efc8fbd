// Package wav reads and writes flux captures stored as WAVE audio.
package wav

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/edorfaus/flux-recover/log"
)

type Meta struct {
	SampleRate  int
	BitDepth    int
	NumChannels int
}

// Recording is one channel of a WAVE file.
type Recording struct {
	Samples []int
	Meta
}

// LastChannel selects the last channel of the file, which is where
// stereo capture rigs usually put the read data.
const LastChannel = -1

func readFile(filename string) ([]byte, error) {
	defer log.Time(1, "Reading: %v ...", filename)(" done in")
	return os.ReadFile(filename)
}

// Load loads one channel of the given file, numbered from 0, or
// LastChannel.
func Load(filename string, channel int) (Recording, error) {
	data, meta, err := LoadInterleaved(filename)
	if err != nil {
		return Recording{}, err
	}
	samples, err := Channel(data, meta.NumChannels, channel)
	if err != nil {
		return Recording{}, fmt.Errorf("%v: %w", filename, err)
	}
	meta.NumChannels = 1
	return Recording{Samples: samples, Meta: meta}, nil
}

// Channel extracts one channel from interleaved samples.
func Channel(data []int, numChannels, channel int) ([]int, error) {
	if channel == LastChannel {
		channel = numChannels - 1
	}
	if channel < 0 || channel >= numChannels {
		return nil, fmt.Errorf("no channel %v of %v", channel, numChannels)
	}
	if numChannels == 1 {
		return data, nil
	}

	defer log.Time(2, "Extracting channel %v...", channel)(" done in")

	// A new buffer lets the interleaved one be released.
	out := make([]int, len(data)/numChannels)
	for i, j := 0, channel; i < len(out); i, j = i+1, j+numChannels {
		out[i] = data[j]
	}
	return out, nil
}

// LoadInterleaved loads the samples of the given file, without
// separating the channels.
func LoadInterleaved(filename string) ([]int, Meta, error) {
	fileData, err := readFile(filename)
	if err != nil {
		return nil, Meta{}, err
	}

	defer log.Time(2, "Decoding WAVE data...\n")("Decoding done in")

	d := wav.NewDecoder(bytes.NewReader(fileData))
	if err := d.FwdToPCM(); err != nil {
		return nil, Meta{}, fmt.Errorf("%v: %w", filename, err)
	}

	if d.BitDepth < 8 || d.BitDepth > 64 || d.BitDepth%8 != 0 {
		return nil, Meta{}, fmt.Errorf("bad bit depth: %v", d.BitDepth)
	}
	expected := int(d.PCMLen() / int64(d.BitDepth/8))
	log.Ln(3, "Expected samples:", expected)

	// +1 in case the length calculation is off.
	buf := &audio.IntBuffer{
		Data: make([]int, expected+1),
	}
	n, err := d.PCMBuffer(buf)
	if err != nil {
		return nil, Meta{}, err
	}
	buf.Data = buf.Data[:n]
	log.Ln(3, "     Got samples:", n)

	if n > expected {
		log.Warn("unexpected sample, may have lost some")
	}
	if n < expected {
		log.Warn("got fewer samples than expected")
	}

	if err := d.Err(); err != nil {
		return nil, Meta{}, err
	}

	if buf.Format == nil || buf.Format.NumChannels < 1 {
		err := fmt.Errorf("missing or bad PCM format information")
		return nil, Meta{}, err
	}

	meta := Meta{
		SampleRate:  buf.Format.SampleRate,
		BitDepth:    int(d.BitDepth),
		NumChannels: buf.Format.NumChannels,
	}
	return buf.Data, meta, nil
}
