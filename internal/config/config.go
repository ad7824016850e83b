package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings holds application level configuration for the transcoding core.
// Per-operation choices (effects, sources, output) travel in requests instead.
type Settings struct {
	FFmpegPath string `yaml:"ffmpeg_path" toml:"ffmpeg_path"`
	TempDir    string `yaml:"temp_dir" toml:"temp_dir"`

	ChunkSeconds      int      `yaml:"chunk_seconds" toml:"chunk_seconds"`
	HardwareWorkers   int      `yaml:"hardware_workers" toml:"hardware_workers"`
	SoftwareWorkerCap int      `yaml:"software_worker_cap" toml:"software_worker_cap"`
	BatchWorkers      int      `yaml:"batch_workers" toml:"batch_workers"`
	ProbeTimeout      Duration `yaml:"probe_timeout" toml:"probe_timeout"`
	DisableHardware   bool     `yaml:"disable_hardware" toml:"disable_hardware"`

	Audio AudioSettings `yaml:"audio" toml:"audio"`
	Log   LogSettings   `yaml:"log" toml:"log"`

	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`
}

// Duration reads "10s" style values from YAML and TOML. A bare number is
// taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v := strings.TrimSpace(string(text))
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", v)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AudioSettings are the fixed mixing gains used by audio assembly.
type AudioSettings struct {
	ClipGain    float64 `yaml:"clip_gain" toml:"clip_gain"`
	AmbientGain float64 `yaml:"ambient_gain" toml:"ambient_gain"`
	MusicGain   float64 `yaml:"music_gain" toml:"music_gain"`
}

type LogSettings struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "console" or "json"
}

// Default returns settings with every field populated.
func Default() *Settings {
	return &Settings{
		FFmpegPath:        "ffmpeg",
		ChunkSeconds:      DefaultChunkSeconds,
		HardwareWorkers:   DefaultHardwareWorkers,
		SoftwareWorkerCap: DefaultSoftwareCap,
		BatchWorkers:      DefaultBatchWorkers,
		ProbeTimeout:      Duration(DefaultProbeTimeout),
		Audio: AudioSettings{
			ClipGain:    ClipAudioGain,
			AmbientGain: AmbientAudioGain,
			MusicGain:   MusicAudioGain,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads settings from path, or from the first candidate file found when
// path is empty. Missing files yield defaults.
func Load(path string) (*Settings, error) {
	s := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, s)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, s)
	default:
		return nil, errors.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// normalize fills zero values left by a partial config file.
func (s *Settings) normalize() {
	d := Default()
	if s.FFmpegPath == "" {
		s.FFmpegPath = d.FFmpegPath
	}
	if s.ChunkSeconds == 0 {
		s.ChunkSeconds = d.ChunkSeconds
	}
	if s.HardwareWorkers == 0 {
		s.HardwareWorkers = d.HardwareWorkers
	}
	if s.SoftwareWorkerCap == 0 {
		s.SoftwareWorkerCap = d.SoftwareWorkerCap
	}
	if s.BatchWorkers == 0 {
		s.BatchWorkers = d.BatchWorkers
	}
	if s.ProbeTimeout == 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	if s.Audio == (AudioSettings{}) {
		s.Audio = d.Audio
	}
	if s.Log.Level == "" {
		s.Log.Level = d.Log.Level
	}
	if s.Log.Format == "" {
		s.Log.Format = d.Log.Format
	}
}

// Validate checks ranges that would otherwise surface as confusing ffmpeg errors.
func (s *Settings) Validate() error {
	if s.ChunkSeconds < MinChunkSeconds {
		return errors.Errorf("chunk_seconds must be at least %d, got %d", MinChunkSeconds, s.ChunkSeconds)
	}
	if s.HardwareWorkers < 1 {
		return errors.Errorf("hardware_workers must be positive, got %d", s.HardwareWorkers)
	}
	if s.SoftwareWorkerCap < 1 {
		return errors.Errorf("software_worker_cap must be positive, got %d", s.SoftwareWorkerCap)
	}
	if s.BatchWorkers < 1 {
		return errors.Errorf("batch_workers must be positive, got %d", s.BatchWorkers)
	}
	if s.ProbeTimeout <= 0 {
		return errors.New("probe_timeout must be positive")
	}
	switch s.Log.Format {
	case "console", "json":
	default:
		return errors.Errorf("log format: unsupported value %q", s.Log.Format)
	}
	return nil
}

// SoftwareWorkers is the pool size for software encodes: half the host cores,
// at least one, at most the configured cap.
func (s *Settings) SoftwareWorkers() int {
	n := runtime.NumCPU() / 2
	if n > s.SoftwareWorkerCap {
		n = s.SoftwareWorkerCap
	}
	if n < 1 {
		n = 1
	}
	return n
}

func findConfigFile() string {
	candidates := []string{
		"./video-forge.yaml",
		"./video-forge.yml",
		"./video-forge.toml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".video-forge", "config.yaml"),
			filepath.Join(home, ".video-forge", "config.toml"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
