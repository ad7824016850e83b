package processor

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/ZacxDev/video-forge/internal/config"
)

const (
	// TransitionNone joins clips with a plain cut.
	TransitionNone = "none"
	// TransitionRandom picks a catalogue transition per pair.
	TransitionRandom = "random"
	// TransitionFadeBlackHold renders clips one by one with a dip to black.
	TransitionFadeBlackHold = "fadeblack_hold"

	defaultTransition = "fade"
	minBodySeconds    = 0.001
)

// Transitions lists the xfade transitions accepted by name.
var Transitions = []string{
	"fade", "fadeblack", "fadewhite", "fadegrays", "fadefast", "fadeslow", "dissolve",
	"wipeleft", "wiperight", "wipeup", "wipedown",
	"wipetl", "wipetr", "wipebl", "wipebr",
	"slideleft", "slideright", "slideup", "slidedown",
	"smoothleft", "smoothright", "smoothup", "smoothdown",
	"circleopen", "circleclose", "circlecrop", "rectcrop", "radial", "pixelize", "zoomin", "distance",
	"diagtl", "diagtr", "diagbl", "diagbr",
	"hlslice", "hrslice", "vuslice", "vdslice",
	"hblur", "squeezeh", "squeezev",
	"hlwind", "hrwind", "vuwind", "vdwind",
	"coverleft", "coverright", "coverup", "coverdown",
	"revealleft", "revealright", "revealup", "revealdown",
}

// ValidTransition reports whether name is accepted by BuildTimeline. Case and
// surrounding space are ignored.
func ValidTransition(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", TransitionNone, TransitionRandom, TransitionFadeBlackHold:
		return true
	}
	return slices.Contains(Transitions, name)
}

// Clip is one probed merge input.
type Clip struct {
	Path     string
	Duration float64
	Width    int
	Height   int
	FPS      float64
	HasAudio bool
	Codec    string
}

// TransitionSpec joins clip i and clip i+1. The transition covers the last
// Duration seconds of clip i, starting at TailStart, and the first Duration
// seconds of clip i+1.
type TransitionSpec struct {
	Name      string
	Duration  float64
	TailStart float64
}

// Segment is the part of a clip copied between transitions.
type Segment struct {
	Clip     int
	Start    float64
	Duration float64
}

// Timeline is the merge plan: clips, the transitions between adjacent pairs
// and the body of each clip.
type Timeline struct {
	Clips       []Clip
	Transitions []TransitionSpec
	Bodies      []Segment
}

// Duration is the length of the merged output.
func (t Timeline) Duration() float64 {
	total := 0.0
	for _, b := range t.Bodies {
		total += b.Duration
	}
	for _, tr := range t.Transitions {
		total += tr.Duration
	}
	return total
}

// Hold reports whether the timeline uses the sequential dip-to-black render.
func (t Timeline) Hold() bool {
	return len(t.Transitions) > 0 && t.Transitions[0].Name == TransitionFadeBlackHold
}

// BuildTimeline plans the merge of clips joined by name transitions of
// duration seconds. Each transition is clamped to half of the shorter
// neighbour so bodies never go negative. rng drives "random" and may be nil.
func BuildTimeline(clips []Clip, name string, duration float64, rng *rand.Rand) (Timeline, error) {
	if len(clips) < 2 {
		return Timeline{}, errors.New("merge needs at least two clips")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = defaultTransition
	}
	if !ValidTransition(name) {
		return Timeline{}, errors.Errorf("unknown transition %q", name)
	}
	if duration <= 0 {
		duration = config.DefaultTransitionSeconds
	}
	if name == TransitionNone {
		duration = 0
	}
	if name == TransitionRandom && rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	tl := Timeline{Clips: clips}
	for i, c := range clips {
		if c.Duration <= 0 {
			return Timeline{}, errors.Errorf("clip %d (%s) has no duration", i, c.Path)
		}
	}

	for i := 0; i < len(clips)-1; i++ {
		a, b := clips[i], clips[i+1]
		t := math.Min(duration, math.Min(a.Duration/2, b.Duration/2))
		n := name
		if n == TransitionRandom {
			n = Transitions[rng.Intn(len(Transitions))]
		}
		tl.Transitions = append(tl.Transitions, TransitionSpec{
			Name:      n,
			Duration:  t,
			TailStart: a.Duration - t,
		})
	}

	for i, c := range clips {
		start, end := 0.0, c.Duration
		if i > 0 {
			start = tl.Transitions[i-1].Duration
		}
		if i < len(clips)-1 {
			end = tl.Transitions[i].TailStart
		}
		tl.Bodies = append(tl.Bodies, Segment{Clip: i, Start: start, Duration: math.Max(0, end-start)})
	}
	return tl, nil
}
