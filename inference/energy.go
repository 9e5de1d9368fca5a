package inference

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/KenB-Good/ClipMaster/types"
)

// PCMEnergyAnalyzer computes an RMS energy envelope from 16-bit PCM WAV
// audio, the format media.ExtractAudio produces. One sample per WindowSeconds
// of audio.
type PCMEnergyAnalyzer struct {
	WindowSeconds float64
}

// NewPCMEnergyAnalyzer returns an analyzer with half-second windows.
func NewPCMEnergyAnalyzer() *PCMEnergyAnalyzer {
	return &PCMEnergyAnalyzer{WindowSeconds: 0.5}
}

// EnergyEnvelope reads the WAV file and emits windowed RMS values.
func (a *PCMEnergyAnalyzer) EnergyEnvelope(ctx context.Context, audioPath string) ([]types.EnergySample, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, types.Transient(fmt.Errorf("open audio: %w", err))
	}
	defer f.Close()

	sampleRate, channels, err := readWAVHeader(f)
	if err != nil {
		return nil, types.Unrecoverable(fmt.Errorf("parse wav header: %w", err))
	}

	window := int(a.WindowSeconds * float64(sampleRate))
	if window <= 0 {
		window = sampleRate / 2
	}

	var (
		samples  []types.EnergySample
		sumSq    float64
		count    int
		windowID int
		buf      = make([]byte, 8192)
		leftover []byte
	)
	frameSize := 2 * channels
	for {
		if err := ctx.Err(); err != nil {
			return nil, types.WrapTask("", types.KindCancelled, err)
		}
		n, err := f.Read(buf)
		if n > 0 {
			data := append(leftover, buf[:n]...)
			frames := len(data) / frameSize
			for i := 0; i < frames; i++ {
				// Mix channels down before squaring.
				var mixed float64
				for c := 0; c < channels; c++ {
					v := int16(binary.LittleEndian.Uint16(data[i*frameSize+c*2:]))
					mixed += float64(v)
				}
				mixed /= float64(channels) * 32768.0
				sumSq += mixed * mixed
				count++
				if count == window {
					samples = append(samples, types.EnergySample{
						Timestamp: float64(windowID) * a.WindowSeconds,
						Energy:    math.Sqrt(sumSq / float64(count)),
					})
					windowID++
					sumSq, count = 0, 0
				}
			}
			leftover = data[frames*frameSize:]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, types.Transient(fmt.Errorf("read audio: %w", err))
		}
	}
	if count > 0 {
		samples = append(samples, types.EnergySample{
			Timestamp: float64(windowID) * a.WindowSeconds,
			Energy:    math.Sqrt(sumSq / float64(count)),
		})
	}
	return samples, nil
}

// readWAVHeader walks RIFF chunks up to the data chunk and returns the sample
// rate and channel count. Only 16-bit PCM is accepted.
func readWAVHeader(r io.ReadSeeker) (sampleRate, channels int, err error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return 0, 0, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, 0, fmt.Errorf("not a RIFF/WAVE file")
	}

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return 0, 0, err
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			var fmtChunk [16]byte
			if _, err := io.ReadFull(r, fmtChunk[:]); err != nil {
				return 0, 0, err
			}
			format := binary.LittleEndian.Uint16(fmtChunk[0:2])
			bits := binary.LittleEndian.Uint16(fmtChunk[14:16])
			if format != 1 || bits != 16 {
				return 0, 0, fmt.Errorf("unsupported wav encoding (format %d, %d-bit)", format, bits)
			}
			channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			if size > 16 {
				if _, err := r.Seek(size-16, io.SeekCurrent); err != nil {
					return 0, 0, err
				}
			}
		case "data":
			if sampleRate == 0 || channels == 0 {
				return 0, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			return sampleRate, channels, nil
		default:
			if _, err := r.Seek(size, io.SeekCurrent); err != nil {
				return 0, 0, err
			}
		}
	}
}

var _ AudioAnalyzer = (*PCMEnergyAnalyzer)(nil)
