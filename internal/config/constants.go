package config

import "time"

const (
	// Chunked export
	DefaultChunkSeconds    = 30
	MinChunkSeconds        = 2
	DefaultHardwareWorkers = 3 // NVENC sessions are the bottleneck, not cores
	DefaultSoftwareCap     = 4
	DefaultBatchWorkers    = 2

	// Capability probe
	DefaultProbeTimeout = 10 * time.Second

	// Upper bound for one ffprobe run; a stop returns earlier
	MediaProbeTimeout = 2 * time.Minute

	// Transitions
	DefaultTransitionSeconds = 1.0

	// Audio assembly gains
	ClipAudioGain    = 1.0
	AmbientAudioGain = 0.35
	MusicAudioGain   = 0.15

	// Working directory prefix, created next to the output file
	TempDirPrefix = ".video_forge_"

	// Text overlay settings
	TextSize        = "36"    // Font size for overlay text
	TextPadding     = "20"    // Padding from edges
	TextColor       = "white" // Text color
	TextBorderColor = "black" // Text border color
	TextBorderWidth = "2"     // Text border width

	// Logo overlay settings
	DefaultLogoWidth = 160
	LogoPadding      = 20

	// Encoder presets
	SoftwareVideoCodec  = "libx264"
	SoftwarePreset      = "veryfast"
	SoftwareCRF         = 20
	HardwareVideoCodec  = "h264_nvenc"
	HardwarePreset      = "p1" // fastest NVENC preset
	HardwareCQ          = 23
	DefaultAudioCodec   = "aac"
	DefaultAudioBitrate = "192k"
	AudioSampleRate     = 48000
	AudioChannels       = 2

	// Supervisor diagnostics
	DiagnosticTailLines = 20
	DiagnosticTailBytes = 8000
	LastFailedCmdFile   = "last_failed_cmd.txt"
)
