package backend

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/effects"
	"github.com/ZacxDev/video-forge/internal/logging"
	"github.com/ZacxDev/video-forge/internal/metrics"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// Path is the decode/encode route of a job.
type Path int

const (
	// Software decodes, filters and encodes on the CPU.
	Software Path = iota
	// Hybrid decodes and filters on the CPU and encodes with NVENC.
	Hybrid
	// FullHardware decodes with CUDA and encodes with NVENC.
	FullHardware
)

func (p Path) String() string {
	switch p {
	case Hybrid:
		return "hybrid"
	case FullHardware:
		return "full_hardware"
	default:
		return "software"
	}
}

// Hardware reports whether the path uses the GPU encoder.
func (p Path) Hardware() bool {
	return p != Software
}

// Plan is the backend decision for one operation.
type Plan struct {
	Path Path
	// SeparateAudio runs the audio chain in its own pass and muxes afterwards.
	SeparateAudio bool
	// Threads caps the software encoder; 0 leaves it to the encoder.
	Threads int
}

// Select picks the backend path for cfg given the probed capability.
func Select(cfg effects.Configuration, available bool) Plan {
	plan := Plan{SeparateAudio: cfg.NeedsAudioProcessing()}
	switch {
	case !available:
		plan.Path = Software
	case cfg.SpeedChanged():
		plan.Path = Hybrid
	default:
		plan.Path = FullHardware
	}
	return plan
}

// Fallback returns the software plan used after a hardware failure.
func (p Plan) Fallback() Plan {
	return Plan{Path: Software, SeparateAudio: p.SeparateAudio, Threads: p.Threads}
}

// EncoderArgs returns the input-side and output-side flags for the path.
func (p Plan) EncoderArgs() (input, output []string) {
	switch p.Path {
	case FullHardware:
		input = []string{"-hwaccel", "cuda"}
		output = nvencArgs()
	case Hybrid:
		output = nvencArgs()
	default:
		output = []string{
			"-c:v", config.SoftwareVideoCodec,
			"-preset", config.SoftwarePreset,
			"-crf", strconv.Itoa(config.SoftwareCRF),
		}
		if p.Threads > 0 {
			output = append(output, "-threads", strconv.Itoa(p.Threads))
		}
	}
	output = append(output, "-pix_fmt", "yuv420p")
	return input, output
}

func nvencArgs() []string {
	return []string{
		"-c:v", config.HardwareVideoCodec,
		"-preset", config.HardwarePreset,
		"-rc", "vbr",
		"-cq", strconv.Itoa(config.HardwareCQ),
		"-b:v", "0",
	}
}

// ProbeArgs is the synthetic one-frame NVENC encode used to detect the encoder.
func ProbeArgs() []string {
	return []string{
		"-hide_banner",
		"-v", "error",
		"-f", "lavfi",
		"-i", "nullsrc=s=256x256:d=0.1",
		"-c:v", config.HardwareVideoCodec,
		"-frames:v", "1",
		"-f", "null", "-",
	}
}

// Cache memoizes the capability probe for its lifetime.
type Cache struct {
	runner   supervisor.Runner
	timeout  time.Duration
	disabled bool
	log      zerolog.Logger

	mu        sync.Mutex
	probed    bool
	available bool
}

// NewCache creates a capability cache. When disabled, Probe always reports
// the encoder as unavailable without spawning anything.
func NewCache(runner supervisor.Runner, timeout time.Duration, disabled bool) *Cache {
	if timeout <= 0 {
		timeout = config.DefaultProbeTimeout
	}
	return &Cache{
		runner:   runner,
		timeout:  timeout,
		disabled: disabled,
		log:      logging.WithComponent("backend"),
	}
}

// Probe reports whether the NVENC encoder works on this host. The first call
// runs a synthetic encode bounded by the cache timeout; later calls return
// the memoized answer. A probe cut short by ctx is not memoized.
func (c *Cache) Probe(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.probed {
		return c.available
	}
	if c.disabled {
		c.store(false)
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.runner.Run(probeCtx, ProbeArgs(), supervisor.WithLabel("nvenc_probe"))
	if err != nil && ctx.Err() != nil {
		return false
	}

	c.store(err == nil)
	c.log.Info().
		Bool("available", c.available).
		Dur("took", time.Since(start)).
		AnErr("reason", err).
		Msg("hardware encoder probe")
	return c.available
}

func (c *Cache) store(available bool) {
	c.probed = true
	c.available = available
	if available {
		metrics.HardwareAvailable.Set(1)
	} else {
		metrics.HardwareAvailable.Set(0)
	}
}
