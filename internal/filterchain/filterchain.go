// Package filterchain turns an effect configuration into ffmpeg filter
// operations. Output order is fixed by category and never depends on how the
// configuration was populated.
package filterchain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/effects"
	"github.com/ZacxDev/video-forge/internal/platform"
)

// Category fixes where an operation lands in the chain.
type Category int

// Video categories, in chain order.
const (
	CategoryGeometry Category = iota + 1
	CategoryPixel
	CategoryColor
	CategoryAntiDetection
	CategoryZoom
	CategoryTemplate
	CategoryBorder
	CategoryOverlay
	CategorySpeed
	CategoryFormat
)

// Audio categories, in chain order.
const (
	CategoryTempo Category = iota + 100
	CategoryPitch
	CategoryVolume
	CategoryEvasion
)

// OutputLabel is the pad callers map when the chain is a graph.
const OutputLabel = "[vout]"

// Op is a single named filter with its argument string.
type Op struct {
	Name     string
	Args     string
	Category Category
}

func (o Op) String() string {
	if o.Args == "" {
		return o.Name
	}
	return o.Name + "=" + o.Args
}

// Node is one labelled linear segment of a filter graph.
type Node struct {
	Inputs  []string
	Filters []Op
	Outputs []string
}

func (n Node) String() string {
	return strings.Join(n.Inputs, "") + join(n.Filters) + strings.Join(n.Outputs, "")
}

// Graph is a multi-input filter graph used when a logo is overlaid.
type Graph struct {
	Nodes  []Node
	Output string
}

func (g *Graph) String() string {
	parts := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ";")
}

// Chain is the result of Build.
type Chain struct {
	Video []Op
	Audio []Op
	// Graph is set when the configuration overlays a logo. The logo must be
	// passed as the second input.
	Graph *Graph
}

// VideoFilter renders the video chain for -vf.
func (c Chain) VideoFilter() string {
	return join(c.Video)
}

// AudioFilter renders the audio chain for -af, empty when no audio op is needed.
func (c Chain) AudioFilter() string {
	return join(c.Audio)
}

// FilterComplex renders the logo graph, empty in simple mode.
func (c Chain) FilterComplex() string {
	if c.Graph == nil {
		return ""
	}
	return c.Graph.String()
}

// TempoOps returns the audio tempo ops. They run inside the video encode when
// audio is not processed separately so both streams stay in sync.
func (c Chain) TempoOps() []Op {
	var out []Op
	for _, op := range c.Audio {
		if op.Category == CategoryTempo {
			out = append(out, op)
		}
	}
	return out
}

func join(ops []Op) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, ",")
}

type stage func(effects.Configuration) []Op

var videoStages = []stage{
	geometry,
	pixel,
	color,
	antiDetection,
	zoom,
	frameTemplate,
	border,
	overlays,
	speed,
	formatNormalize,
}

var audioStages = []stage{
	tempo,
	pitch,
	volume,
	evasion,
}

// Build derives the filter chain for cfg. It is pure and never fails; cfg is
// expected to have passed Validate.
func Build(cfg effects.Configuration) Chain {
	return build(cfg, videoStages, audioStages)
}

func build(cfg effects.Configuration, video, audio []stage) Chain {
	var c Chain
	for _, s := range video {
		c.Video = append(c.Video, s(cfg)...)
	}
	for _, s := range audio {
		c.Audio = append(c.Audio, s(cfg)...)
	}
	order(c.Video)
	order(c.Audio)

	if cfg.HasLogo() {
		c.Graph = logoGraph(cfg, c.Video)
	}
	return c
}

// order sorts ops by category, keeping the relative order within a category.
func order(ops []Op) {
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Category < ops[j].Category
	})
}

func geometry(cfg effects.Configuration) []Op {
	var ops []Op
	if cfg.Mirror {
		ops = append(ops, Op{Name: "hflip", Category: CategoryGeometry})
	}
	if cfg.CropFraction > 0 {
		keep := FormatNumber(1 - cfg.CropFraction)
		ops = append(ops, Op{
			Name:     "crop",
			Args:     fmt.Sprintf("trunc(iw*%s/2)*2:trunc(ih*%s/2)*2", keep, keep),
			Category: CategoryGeometry,
		})
	}
	return ops
}

// grainSeed keeps noise reproducible across chunks and reruns.
const grainSeed = 20240601

func pixel(cfg effects.Configuration) []Op {
	var ops []Op
	if cfg.Grain > 0 {
		ops = append(ops, Op{
			Name:     "noise",
			Args:     fmt.Sprintf("alls=%d:allf=t:all_seed=%d", cfg.Grain, grainSeed),
			Category: CategoryPixel,
		})
	}
	if cfg.Rotation != 0 {
		ops = append(ops, Op{
			Name:     "rotate",
			Args:     fmt.Sprintf("%s*PI/180:fillcolor=black", FormatNumber(cfg.Rotation)),
			Category: CategoryPixel,
		})
	}
	if cfg.LensDistortion != 0 {
		ops = append(ops, Op{
			Name:     "lenscorrection",
			Args:     fmt.Sprintf("k1=%s:k2=%s", FormatNumber(cfg.LensDistortion), FormatNumber(cfg.LensDistortion/2)),
			Category: CategoryPixel,
		})
	}
	return ops
}

var gradingFilters = map[effects.ColorGrading][]Op{
	effects.GradingVibrant: {
		{Name: "eq", Args: "saturation=1.35:contrast=1.05"},
	},
	effects.GradingWarm: {
		{Name: "colortemperature", Args: "temperature=6000"},
		{Name: "eq", Args: "saturation=1.2"},
	},
	effects.GradingCool: {
		{Name: "colortemperature", Args: "temperature=12000"},
		{Name: "eq", Args: "saturation=0.8"},
	},
	effects.GradingVintage: {
		{Name: "curves", Args: "preset=vintage"},
		{Name: "vignette", Args: "angle=PI/4"},
	},
	effects.GradingCinematic: {
		{Name: "eq", Args: "contrast=1.1:brightness=-0.05:saturation=1.1"},
		{Name: "unsharp", Args: "3:3:1.5"},
	},
	effects.GradingMoody: {
		{Name: "eq", Args: "contrast=1.15:brightness=-0.08:saturation=0.75"},
		{Name: "vignette", Args: "angle=PI/5"},
	},
	effects.GradingMono: {
		{Name: "hue", Args: "s=0"},
	},
}

func color(cfg effects.Configuration) []Op {
	var ops []Op
	for _, op := range gradingFilters[cfg.ColorGrading] {
		op.Category = CategoryColor
		ops = append(ops, op)
	}
	if cfg.Glow > 0 {
		// Negative unsharp amount blurs; lifted brightness gives the bloom.
		ops = append(ops,
			Op{Name: "unsharp", Args: fmt.Sprintf("7:7:-%s:7:7:0", FormatNumber(cfg.Glow*1.5)), Category: CategoryColor},
			Op{Name: "eq", Args: fmt.Sprintf("brightness=%s:saturation=%s", FormatNumber(cfg.Glow*0.05), FormatNumber(1+cfg.Glow*0.1)), Category: CategoryColor},
		)
	}
	return ops
}

func antiDetection(cfg effects.Configuration) []Op {
	var ops []Op
	if cfg.PixelEnlarge > 0 {
		f := FormatNumber(1 + cfg.PixelEnlarge)
		ops = append(ops,
			Op{Name: "scale", Args: fmt.Sprintf("trunc(iw*%s/2)*2:trunc(ih*%s/2)*2:flags=neighbor", f, f), Category: CategoryAntiDetection},
			Op{Name: "crop", Args: fmt.Sprintf("trunc(iw/%s/2)*2:trunc(ih/%s/2)*2", f, f), Category: CategoryAntiDetection},
		)
	}
	if cfg.RGBDrift > 0 {
		ops = append(ops, Op{
			Name:     "rgbashift",
			Args:     fmt.Sprintf("rh=%d:bh=-%d", cfg.RGBDrift, cfg.RGBDrift),
			Category: CategoryAntiDetection,
		})
	}
	if cfg.ChromaPermute {
		ops = append(ops, Op{
			Name:     "colorchannelmixer",
			Args:     "rr=0.97:rg=0.03:gg=0.97:gb=0.03:bb=0.97:br=0.03",
			Category: CategoryAntiDetection,
		})
	}
	return ops
}

func zoom(cfg effects.Configuration) []Op {
	if cfg.Zoom <= 0 {
		return nil
	}
	z := FormatNumber(1 + cfg.Zoom)
	return []Op{
		{Name: "scale", Args: fmt.Sprintf("trunc(iw*%s/2)*2:trunc(ih*%s/2)*2", z, z), Category: CategoryZoom},
		// Slow horizontal pan across the enlarged frame.
		{Name: "crop", Args: fmt.Sprintf("trunc(iw/%s/2)*2:trunc(ih/%s/2)*2:(iw-ow)/2*(1+sin(t/8)):(ih-oh)/2", z, z), Category: CategoryZoom},
	}
}

func frameTemplate(cfg effects.Configuration) []Op {
	if cfg.FrameTemplate == "" {
		return nil
	}
	w, h, err := platform.Resolve(cfg.FrameTemplate)
	if err != nil {
		return nil
	}
	return []Op{
		{Name: "scale", Args: fmt.Sprintf("%d:%d:force_original_aspect_ratio=decrease", w, h), Category: CategoryTemplate},
		{Name: "pad", Args: fmt.Sprintf("%d:%d:(ow-iw)/2:(oh-ih)/2:black", w, h), Category: CategoryTemplate},
		{Name: "setsar", Args: "1", Category: CategoryTemplate},
	}
}

func border(cfg effects.Configuration) []Op {
	if cfg.Border.Width <= 0 {
		return nil
	}
	c := cfg.Border.Color
	if c == "" {
		c = "black"
	}
	return []Op{{
		Name:     "drawbox",
		Args:     fmt.Sprintf("x=0:y=0:w=iw:h=ih:color=%s:t=%d", c, cfg.Border.Width),
		Category: CategoryBorder,
	}}
}

func overlays(cfg effects.Configuration) []Op {
	var ops []Op
	if cfg.Text.Content != "" {
		x, y := textPosition(cfg.Text.Position)
		ops = append(ops, Op{
			Name: "drawtext",
			Args: fmt.Sprintf(
				"text=%s:expansion=none:"+
					"fontsize=%s:"+
					"fontcolor=%s:"+
					"bordercolor=%s:"+
					"borderw=%s:"+
					"x=%s:"+
					"y=%s:"+
					"shadowcolor=black:shadowx=2:shadowy=2:"+
					"box=1:boxcolor=black@0.5:boxborderw=5",
				Escape(cfg.Text.Content),
				config.TextSize,
				config.TextColor,
				config.TextBorderColor,
				config.TextBorderWidth,
				x, y,
			),
			Category: CategoryOverlay,
		})
	}
	if cfg.SubtitlePath != "" {
		ops = append(ops, Op{
			Name:     "subtitles",
			Args:     "filename=" + Escape(cfg.SubtitlePath),
			Category: CategoryOverlay,
		})
	}
	return ops
}

func textPosition(p effects.Position) (x, y string) {
	pad := config.TextPadding
	switch p {
	case effects.PositionBottomLeft:
		return pad, "h-th-" + pad
	case effects.PositionTopRight:
		return "w-tw-" + pad, pad
	case effects.PositionTopLeft:
		return pad, pad
	default:
		return "w-tw-" + pad, "h-th-" + pad
	}
}

func speed(cfg effects.Configuration) []Op {
	if !cfg.SpeedChanged() {
		return nil
	}
	return []Op{{Name: "setpts", Args: "PTS/" + FormatNumber(cfg.EffectiveSpeed()), Category: CategorySpeed}}
}

func formatNormalize(effects.Configuration) []Op {
	return []Op{{Name: "format", Args: "yuv420p", Category: CategoryFormat}}
}

func tempo(cfg effects.Configuration) []Op {
	if !cfg.SpeedChanged() {
		return nil
	}
	return atempo(cfg.EffectiveSpeed(), CategoryTempo)
}

func pitch(cfg effects.Configuration) []Op {
	p := cfg.EffectivePitch()
	if p == 1 {
		return nil
	}
	rate := int(math.Round(float64(config.AudioSampleRate) * p))
	ops := []Op{
		{Name: "asetrate", Args: strconv.Itoa(rate), Category: CategoryPitch},
		{Name: "aresample", Args: strconv.Itoa(config.AudioSampleRate), Category: CategoryPitch},
	}
	return append(ops, atempo(1/p, CategoryPitch)...)
}

func volume(cfg effects.Configuration) []Op {
	v := cfg.EffectiveVolume()
	if v == 1 {
		return nil
	}
	return []Op{{Name: "volume", Args: FormatNumber(v), Category: CategoryVolume}}
}

func evasion(cfg effects.Configuration) []Op {
	if !cfg.AudioEvasion {
		return nil
	}
	return []Op{
		{Name: "highpass", Args: "f=80", Category: CategoryEvasion},
		{Name: "lowpass", Args: "f=15000", Category: CategoryEvasion},
		{Name: "equalizer", Args: "f=1000:t=q:w=1:g=-2", Category: CategoryEvasion},
	}
}

// atempo splits factor into a product of atempo filters each within [0.5, 2].
func atempo(factor float64, cat Category) []Op {
	var ops []Op
	for factor > 2 {
		ops = append(ops, Op{Name: "atempo", Args: "2", Category: cat})
		factor /= 2
	}
	for factor < 0.5 {
		ops = append(ops, Op{Name: "atempo", Args: "0.5", Category: cat})
		factor /= 0.5
	}
	if math.Abs(factor-1) > 1e-9 {
		ops = append(ops, Op{Name: "atempo", Args: FormatNumber(factor), Category: cat})
	}
	return ops
}

func logoGraph(cfg effects.Configuration, video []Op) *Graph {
	width := cfg.Logo.Width
	if width <= 0 {
		width = config.DefaultLogoWidth
	}
	return &Graph{
		Nodes: []Node{
			{Inputs: []string{"[0:v]"}, Filters: video, Outputs: []string{"[base]"}},
			{
				Inputs: []string{"[1:v]"},
				Filters: []Op{
					{Name: "scale", Args: fmt.Sprintf("%d:-1", width)},
					{Name: "format", Args: "rgba"},
				},
				Outputs: []string{"[logo]"},
			},
			{
				Inputs: []string{"[base]", "[logo]"},
				Filters: []Op{
					{Name: "overlay", Args: logoPosition(cfg.Logo.Position) + ":shortest=1"},
					{Name: "format", Args: "yuv420p"},
				},
				Outputs: []string{OutputLabel},
			},
		},
		Output: OutputLabel,
	}
}

func logoPosition(p effects.Position) string {
	pad := strconv.Itoa(config.LogoPadding)
	switch p {
	case effects.PositionTopLeft:
		return pad + ":" + pad
	case effects.PositionBottomLeft:
		return pad + ":H-h-" + pad
	case effects.PositionBottomRight:
		return "W-w-" + pad + ":H-h-" + pad
	default:
		return "W-w-" + pad + ":" + pad
	}
}

// FormatNumber formats a factor with at most four decimals and no trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(math.Round(v*10000)/10000, 'f', -1, 64)
}
