package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/ZacxDev/video-forge/internal/config"
)

// Seconds formats a timestamp for -ss / -t with millisecond precision.
func Seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// SplitArgs cuts src into stream-copied segments. pattern is a printf style
// path such as dir/chunk_%04d.mp4.
func SplitArgs(src, pattern string, segmentSeconds int) []string {
	return ffmpeg.Input(src).
		Output(pattern, ffmpeg.KwArgs{
			"c":                "copy",
			"f":                "segment",
			"segment_time":     segmentSeconds,
			"reset_timestamps": 1,
		}).
		OverWriteOutput().
		GetArgs()
}

// ConcatArgs joins the files named in a concat demuxer list without re-encoding.
func ConcatArgs(listPath, output string) []string {
	return ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(output, ffmpeg.KwArgs{
			"c":        "copy",
			"movflags": "+faststart",
		}).
		OverWriteOutput().
		GetArgs()
}

// TrimArgs cuts duration seconds of src starting at start. Video is stream
// copied; audio is re-encoded to the shared segment layout so trimmed pieces
// concatenate with rendered ones. With videoOnly only the first video stream
// is kept.
func TrimArgs(src, output string, start, duration float64, videoOnly bool) []string {
	out := ffmpeg.KwArgs{
		"c:v":               "copy",
		"avoid_negative_ts": "make_zero",
	}
	if videoOnly {
		out["map"] = "0:v:0"
	} else {
		out["c:a"] = config.DefaultAudioCodec
		out["b:a"] = config.DefaultAudioBitrate
		out["ar"] = config.AudioSampleRate
		out["ac"] = config.AudioChannels
	}
	return ffmpeg.Input(src, ffmpeg.KwArgs{
		"ss": Seconds(start),
		"t":  Seconds(duration),
	}).
		Output(output, out).
		OverWriteOutput().
		GetArgs()
}

// SilenceArgs is a lavfi input of duration seconds of silence in the segment
// audio layout.
func SilenceArgs(duration float64) []string {
	return []string{
		"-f", "lavfi",
		"-t", Seconds(duration),
		"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", config.AudioSampleRate),
	}
}

// AudioEncodeArgs encodes audio in the layout every merge segment shares.
func AudioEncodeArgs() []string {
	return []string{
		"-c:a", config.DefaultAudioCodec,
		"-b:a", config.DefaultAudioBitrate,
		"-ar", strconv.Itoa(config.AudioSampleRate),
		"-ac", strconv.Itoa(config.AudioChannels),
	}
}

// ExtractAudioArgs re-encodes the first audio stream of src to AAC.
func ExtractAudioArgs(src, output string) []string {
	return ffmpeg.Input(src).
		Output(output, ffmpeg.KwArgs{
			"map": "0:a:0",
			"c:a": config.DefaultAudioCodec,
			"b:a": config.DefaultAudioBitrate,
			"ar":  config.AudioSampleRate,
		}).
		OverWriteOutput().
		GetArgs()
}

// MuxArgs takes video from the first file and audio from the second.
func MuxArgs(video, audio, output string) []string {
	return []string{
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", config.DefaultAudioCodec,
		"-b:a", config.DefaultAudioBitrate,
		"-shortest",
		"-movflags", "+faststart",
		"-y", output,
	}
}

// WriteConcatList writes a concat demuxer list naming files in order.
func WriteConcatList(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return errors.WithStack(err)
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, "write concat list")
	}
	return nil
}
