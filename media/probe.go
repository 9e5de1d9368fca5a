package media

import (
	"encoding/json"
	"fmt"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/KenB-Good/ClipMaster/types"
)

// MediaInfo is the subset of ffprobe output the pipeline needs.
type MediaInfo struct {
	Duration   float64
	Width      int
	Height     int
	Format     string
	SizeBytes  int64
	HasAudio   bool
	FrameRate  string
	VideoCodec string
}

// Resolution renders "WxH", or "" when no video stream was found.
func (i MediaInfo) Resolution() string {
	if i.Width == 0 || i.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
		Size       string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// Probe inspects a media file. Files ffprobe cannot parse are unrecoverable:
// retrying will not make the bytes valid.
func Probe(path string) (MediaInfo, error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return MediaInfo{}, types.Unrecoverable(fmt.Errorf("ffprobe %s: %w", path, err))
	}
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return MediaInfo{}, types.Unrecoverable(fmt.Errorf("parse ffprobe output: %w", err))
	}

	info := MediaInfo{Format: out.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	info.SizeBytes, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width = s.Width
				info.Height = s.Height
				info.FrameRate = s.AvgFrameRate
				info.VideoCodec = s.CodecName
			}
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}
