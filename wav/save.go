package wav

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/edorfaus/flux-recover/log"
)

// Save writes a mono recording as integer PCM.
func Save(fn string, r Recording) (er error) {
	if r.SampleRate <= 0 || r.BitDepth < 8 || r.BitDepth%8 != 0 {
		return fmt.Errorf("bad format: %v Hz, %v bits", r.SampleRate, r.BitDepth)
	}

	defer log.Time(1, "Saving WAVE to: %v ...", fn)(" done in")

	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil && er == nil {
			er = err
		}
	}()

	e := wav.NewEncoder(f, r.SampleRate, r.BitDepth, 1, 1)

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  r.SampleRate,
		},
		Data:           r.Samples,
		SourceBitDepth: r.BitDepth,
	}
	if err := e.Write(buf); err != nil {
		return err
	}
	return e.Close()
}
