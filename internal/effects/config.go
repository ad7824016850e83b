package effects

import (
	"fmt"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/ZacxDev/video-forge/internal/platform"
)

// ColorGrading is a closed set of color presets.
type ColorGrading string

const (
	GradingNone      ColorGrading = ""
	GradingVibrant   ColorGrading = "vibrant"
	GradingWarm      ColorGrading = "warm"
	GradingCool      ColorGrading = "cool"
	GradingVintage   ColorGrading = "vintage"
	GradingCinematic ColorGrading = "cinematic"
	GradingMoody     ColorGrading = "moody"
	GradingMono      ColorGrading = "mono"
)

var gradings = map[ColorGrading]bool{
	GradingNone:      true,
	"none":           true,
	GradingVibrant:   true,
	GradingWarm:      true,
	GradingCool:      true,
	GradingVintage:   true,
	GradingCinematic: true,
	GradingMoody:     true,
	GradingMono:      true,
}

// Position anchors an overlay to a corner of the frame.
type Position string

const (
	PositionDefault     Position = ""
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
)

func (p Position) valid() bool {
	switch p {
	case PositionDefault, PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight:
		return true
	}
	return false
}

// Border draws a solid frame inside the picture.
type Border struct {
	Width int    `json:"width" yaml:"width"`
	Color string `json:"color" yaml:"color"`
}

// Text is a static caption burned into the video.
type Text struct {
	Content  string   `json:"content" yaml:"content"`
	Position Position `json:"position" yaml:"position"`
}

// Logo is an image overlay fed as a second input.
type Logo struct {
	Path     string   `json:"path" yaml:"path"`
	Position Position `json:"position" yaml:"position"`
	Width    int      `json:"width" yaml:"width"`
}

// Configuration is the declarative description of every transform applied to
// an operation. The zero value disables everything. Speed, Pitch and Volume
// treat 0 as 1.0.
type Configuration struct {
	// Geometry
	Mirror         bool    `json:"mirror" yaml:"mirror"`
	CropFraction   float64 `json:"crop" yaml:"crop"`
	Rotation       float64 `json:"rotation" yaml:"rotation"` // degrees
	LensDistortion float64 `json:"lens" yaml:"lens"`

	// Pixel
	Grain         int     `json:"grain" yaml:"grain"`
	RGBDrift      int     `json:"rgb_drift" yaml:"rgb_drift"` // pixels
	ChromaPermute bool    `json:"chroma_permute" yaml:"chroma_permute"`
	PixelEnlarge  float64 `json:"pixel_enlarge" yaml:"pixel_enlarge"`

	ColorGrading ColorGrading `json:"color_grading" yaml:"color_grading"`
	Glow         float64      `json:"glow" yaml:"glow"`

	FrameTemplate string  `json:"frame_template" yaml:"frame_template"`
	Zoom          float64 `json:"zoom" yaml:"zoom"` // extra scale over the source raster

	Border Border `json:"border" yaml:"border"`
	Text   Text   `json:"text" yaml:"text"`
	Logo   Logo   `json:"logo" yaml:"logo"`

	// Audio
	Speed        float64 `json:"speed" yaml:"speed"`
	Pitch        float64 `json:"pitch" yaml:"pitch"`
	Volume       float64 `json:"volume" yaml:"volume"`
	AudioEvasion bool    `json:"audio_evasion" yaml:"audio_evasion"`

	SubtitlePath string `json:"subtitle_path" yaml:"subtitle_path"`
}

const (
	MaxCropFraction  = 0.4
	MaxRotation      = 45.0
	MaxGrain         = 100
	MaxRGBDrift      = 20
	MaxPixelEnlarge  = 0.25
	MaxZoom          = 0.5
	MaxBorderWidth   = 200
	MinSpeed         = 0.25
	MaxSpeed         = 4.0
	MinPitch         = 0.5
	MaxPitch         = 2.0
	MaxVolume        = 4.0
	MaxLogoWidth     = 4096
	MaxTextLength    = 500
	defaultFactorEps = 1e-9
)

// EffectiveSpeed returns the playback speed with the zero default applied.
func (c Configuration) EffectiveSpeed() float64 {
	return factorOrOne(c.Speed)
}

// EffectivePitch returns the pitch factor with the zero default applied.
func (c Configuration) EffectivePitch() float64 {
	return factorOrOne(c.Pitch)
}

// EffectiveVolume returns the gain with the zero default applied.
func (c Configuration) EffectiveVolume() float64 {
	return factorOrOne(c.Volume)
}

// HasLogo reports whether the auxiliary-input graph mode is needed.
func (c Configuration) HasLogo() bool {
	return c.Logo.Path != ""
}

// SpeedChanged reports a playback speed other than 1.0.
func (c Configuration) SpeedChanged() bool {
	return !isOne(c.EffectiveSpeed())
}

// NeedsAudioProcessing reports whether audio must be processed separately from
// the video encode.
func (c Configuration) NeedsAudioProcessing() bool {
	return !isOne(c.EffectivePitch()) || !isOne(c.EffectiveVolume()) || c.AudioEvasion
}

func factorOrOne(v float64) float64 {
	if v == 0 {
		return 1.0
	}
	return v
}

func isOne(v float64) bool {
	d := v - 1.0
	return d < defaultFactorEps && d > -defaultFactorEps
}

// ValidationError lists every violation found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid effect configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks ranges, enum membership, the frame template and referenced
// files. It reports every problem at once.
func (c Configuration) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.CropFraction < 0 || c.CropFraction > MaxCropFraction {
		add("crop must be within [0, %.2f], got %v", MaxCropFraction, c.CropFraction)
	}
	if c.Rotation < -MaxRotation || c.Rotation > MaxRotation {
		add("rotation must be within [-%v, %v] degrees, got %v", MaxRotation, MaxRotation, c.Rotation)
	}
	if c.LensDistortion < -1 || c.LensDistortion > 1 {
		add("lens distortion must be within [-1, 1], got %v", c.LensDistortion)
	}
	if c.Grain < 0 || c.Grain > MaxGrain {
		add("grain must be within [0, %d], got %d", MaxGrain, c.Grain)
	}
	if c.RGBDrift < 0 || c.RGBDrift > MaxRGBDrift {
		add("rgb drift must be within [0, %d], got %d", MaxRGBDrift, c.RGBDrift)
	}
	if c.PixelEnlarge < 0 || c.PixelEnlarge > MaxPixelEnlarge {
		add("pixel enlarge must be within [0, %.2f], got %v", MaxPixelEnlarge, c.PixelEnlarge)
	}
	if !gradings[c.ColorGrading] {
		add("unknown color grading %q", c.ColorGrading)
	}
	if c.Glow < 0 || c.Glow > 1 {
		add("glow must be within [0, 1], got %v", c.Glow)
	}
	if c.FrameTemplate != "" {
		if _, _, err := platform.Resolve(c.FrameTemplate); err != nil {
			add("%v", err)
		}
	}
	if c.Zoom < 0 || c.Zoom > MaxZoom {
		add("zoom must be within [0, %.2f], got %v", MaxZoom, c.Zoom)
	}

	if c.Border.Width < 0 || c.Border.Width > MaxBorderWidth {
		add("border width must be within [0, %d], got %d", MaxBorderWidth, c.Border.Width)
	}
	if c.Border.Width > 0 && strings.ContainsAny(c.Border.Color, ":=,;[]'\\") {
		add("border color %q contains filter syntax characters", c.Border.Color)
	}

	if len(c.Text.Content) > MaxTextLength {
		add("text overlay longer than %d bytes", MaxTextLength)
	}
	if !c.Text.Position.valid() {
		add("unknown text position %q", c.Text.Position)
	}

	if c.HasLogo() {
		if !c.Logo.Position.valid() {
			add("unknown logo position %q", c.Logo.Position)
		}
		if c.Logo.Width < 0 || c.Logo.Width > MaxLogoWidth {
			add("logo width must be within [0, %d], got %d", MaxLogoWidth, c.Logo.Width)
		}
		if err := checkImage(c.Logo.Path); err != nil {
			add("logo: %v", err)
		}
	}

	if c.Speed != 0 && (c.Speed < MinSpeed || c.Speed > MaxSpeed) {
		add("speed must be within [%v, %v], got %v", MinSpeed, MaxSpeed, c.Speed)
	}
	if c.Pitch != 0 && (c.Pitch < MinPitch || c.Pitch > MaxPitch) {
		add("pitch must be within [%v, %v], got %v", MinPitch, MaxPitch, c.Pitch)
	}
	if c.Volume < 0 || c.Volume > MaxVolume {
		add("volume must be within [0, %v], got %v", MaxVolume, c.Volume)
	}

	if c.SubtitlePath != "" {
		if st, err := os.Stat(c.SubtitlePath); err != nil {
			add("subtitle file: %v", err)
		} else if st.IsDir() {
			add("subtitle path %s is a directory", c.SubtitlePath)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkImage(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if _, err := imaging.Open(path); err != nil {
		return errors.Wrap(err, "not a decodable image")
	}
	return nil
}
