package ffmpeg

import (
	"context"
	"encoding/json"
	"math"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/logging"
)

// VideoMetadata contains metadata about a video file
type VideoMetadata struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	FPS      float64
	HasAudio bool
	Bitrate  int64
}

// Prober reads stream metadata from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*VideoMetadata, error)
}

// Processor wraps ffprobe through ffmpeg-go.
type Processor struct {
	log   zerolog.Logger
	probe func(path string, timeout time.Duration) (string, error)
}

// NewProcessor creates a new FFmpeg processor
func NewProcessor() *Processor {
	return &Processor{
		log: logging.WithComponent("ffprobe"),
		probe: func(path string, timeout time.Duration) (string, error) {
			return ffmpeg.ProbeWithTimeout(path, timeout, ffmpeg.KwArgs{})
		},
	}
}

// Probe retrieves metadata about a video file. It returns as soon as ctx is
// done; the ffprobe child is bounded by config.MediaProbeTimeout.
func (p *Processor) Probe(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type probed struct {
		out string
		err error
	}
	done := make(chan probed, 1)
	go func() {
		out, err := p.probe(inputPath, config.MediaProbeTimeout)
		done <- probed{out, err}
	}()

	var out string
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "error probing %s", inputPath)
		}
		out = r.out
	}

	md, err := ParseProbe([]byte(out))
	if err != nil {
		return nil, errors.Wrapf(err, "probe %s", inputPath)
	}

	p.log.Debug().
		Str("path", inputPath).
		Float64("duration", md.Duration).
		Int("width", md.Width).
		Int("height", md.Height).
		Bool("audio", md.HasAudio).
		Int64("bitrate", md.Bitrate).
		Msg("probed")
	return md, nil
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Duration   string `json:"duration"`
	NbFrames   string `json:"nb_frames"`
	RFrameRate string `json:"r_frame_rate"`
	BitRate    string `json:"bit_rate"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
	Size     string `json:"size"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// ParseProbe decodes ffprobe JSON output (-show_format -show_streams).
func ParseProbe(data []byte) (*VideoMetadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.WithStack(err)
	}
	if len(probe.Streams) == 0 {
		return nil, errors.New("no streams found in video")
	}

	var video *probeStream
	hasAudio := false
	for i := range probe.Streams {
		s := &probe.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			hasAudio = true
		}
	}
	if video == nil {
		return nil, errors.New("no video stream found")
	}

	fps := parseRate(video.RFrameRate)

	// First try video stream duration
	duration := parseFloat(video.Duration)

	// If stream duration is not available, try format duration
	if duration == 0 {
		duration = parseFloat(probe.Format.Duration)
	}

	// If still no duration found, try calculating from frames and frame rate
	if duration == 0 && fps > 0 {
		duration = parseFloat(video.NbFrames) / fps
	}

	if duration <= 0 {
		return nil, errors.New("could not determine video duration")
	}

	return &VideoMetadata{
		Duration: duration,
		Width:    video.Width,
		Height:   video.Height,
		Codec:    video.CodecName,
		FPS:      fps,
		HasAudio: hasAudio,
		Bitrate:  bitrate(probe, video, duration),
	}, nil
}

// bitrate prefers the container figure, then the video stream, then an
// estimate from file size.
func bitrate(probe probeOutput, video *probeStream, duration float64) int64 {
	if b, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		return b
	}
	if b, err := strconv.ParseInt(video.BitRate, 10, 64); err == nil {
		return b
	}
	if size, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil && duration > 0 {
		return int64(float64(size*8) / duration)
	}
	return 0
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func parseRate(s string) float64 {
	nums := strings.Split(s, "/")
	if len(nums) != 2 {
		return parseFloat(s)
	}
	num, err1 := strconv.ParseFloat(nums[0], 64)
	den, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// GetOptimalThreadCount returns the encoder thread budget for the whole host.
// Concurrent jobs share it.
func GetOptimalThreadCount() int {
	cpuCount := runtime.NumCPU()
	// Use 75% of available cores to prevent overload
	return int(math.Max(1, float64(cpuCount)*0.75))
}

// EnsureExtension replaces any known video extension with extension.
func EnsureExtension(filename, extension string) string {
	extensions := []string{".mp4", ".webm", ".mkv", ".avi", ".mov"}
	for _, ext := range extensions {
		filename = strings.TrimSuffix(filename, ext)
	}
	return filename + extension
}
