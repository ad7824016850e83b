package processor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ZacxDev/video-forge/internal/backend"
	"github.com/ZacxDev/video-forge/internal/effects"
	"github.com/ZacxDev/video-forge/internal/ffmpeg"
	"github.com/ZacxDev/video-forge/internal/filterchain"
	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

const defaultFPS = 30

// MergeRequest joins Clips in order. Output must already be reserved.
type MergeRequest struct {
	Clips             []string
	Output            string
	Transition        string
	TransitionSeconds float64
	Audio             AudioPlan
	// Rand drives the "random" transition. Nil seeds from the clock.
	Rand *rand.Rand
}

// Merger joins clips with transitions.
type Merger struct {
	*Processor
}

// NewMerger creates a merger sharing p.
func NewMerger(p *Processor) *Merger {
	return &Merger{Processor: p}
}

// segment is one piece of the merged output rendered into its own file.
type segment struct {
	index  int
	output string
	copy   bool
	render func(plan backend.Plan) []string
}

// raster is the common picture format of a merge.
type raster struct {
	width, height int
	fps           float64
}

// Merge renders the timeline of req.Clips and returns the output path.
func (m *Merger) Merge(op *operation.Operation, req MergeRequest) (string, error) {
	ctx := op.Context()
	if len(req.Clips) < 2 {
		return "", errors.Errorf("merge needs at least two clips, got %d", len(req.Clips))
	}

	clips := make([]Clip, len(req.Clips))
	for i, path := range req.Clips {
		if op.Stopped() {
			return "", supervisor.ErrCancelled
		}
		meta, err := m.prober.Probe(ctx, path)
		if err != nil {
			if IsCancelled(err) || op.Stopped() {
				return "", supervisor.ErrCancelled
			}
			return "", &ProbeError{Path: path, Err: err}
		}
		clips[i] = Clip{
			Path:     path,
			Duration: meta.Duration,
			Width:    meta.Width,
			Height:   meta.Height,
			FPS:      meta.FPS,
			HasAudio: meta.HasAudio,
			Codec:    meta.Codec,
		}
	}

	tl, err := BuildTimeline(clips, req.Transition, req.TransitionSeconds, req.Rand)
	if err != nil {
		return "", err
	}
	op.Info("timeline", fmt.Sprintf("%d clips, %.2fs output", len(clips), tl.Duration()))

	plan := m.threaded(backend.Select(effects.Configuration{}, op.Caps != nil && op.Caps.Probe(ctx)))

	dir, err := m.workDir(req.Output)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	// One clip with audio gives every segment an audio track; silent clips
	// contribute generated silence for their span.
	withAudio := anyHasAudio(clips)
	var segs []segment
	if tl.Hold() {
		segs = holdSegments(tl, dir, withAudio)
	} else {
		segs = timelineSegments(tl, dir, withAudio)
	}

	size := 1
	if !tl.Hold() {
		size = m.settings.SoftwareWorkers()
		if plan.Path.Hardware() {
			size = m.settings.HardwareWorkers
		}
	}

	err = runPool(op, size, len(segs), func(ctx context.Context, i int) error {
		s := segs[i]
		if s.copy {
			return m.runner.Run(ctx, s.render(plan), supervisor.WithLabel(filepath.Base(s.output)))
		}
		return m.withFallback(ctx, op, s.index, plan, func(p backend.Plan) error {
			return m.runner.Run(ctx, s.render(p), supervisor.WithLabel(filepath.Base(s.output)))
		})
	})
	if err != nil {
		return "", err
	}

	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.output
	}
	merged, err := m.stitch(ctx, op, parts, dir, "merged.mp4")
	if err != nil {
		return "", err
	}

	if !req.Audio.Empty() {
		// The merged file already carries clip audio in timeline order.
		sources := []Clip{{Path: merged, Duration: tl.Duration(), HasAudio: withAudio}}
		merged, err = m.overlayAudio(op, merged, sources, req.Audio, tl.Duration(), dir)
		if err != nil {
			return "", err
		}
	}

	if op.Stopped() {
		return "", supervisor.ErrCancelled
	}
	if err := moveInto(merged, req.Output); err != nil {
		return "", err
	}
	return req.Output, nil
}

func anyHasAudio(clips []Clip) bool {
	for _, c := range clips {
		if c.HasAudio {
			return true
		}
	}
	return false
}

// target is the raster of the first clip. Bodies can be stream-copied only
// when every clip already matches it in the codec transitions are encoded with.
func target(clips []Clip) (raster, bool) {
	first := clips[0]
	r := raster{width: first.Width, height: first.Height, fps: first.FPS}
	if r.fps <= 0 {
		r.fps = defaultFPS
	}
	uniform := true
	for _, c := range clips {
		if c.Width != r.width || c.Height != r.height || c.Codec != "h264" || c.FPS != first.FPS {
			uniform = false
		}
	}
	return r, uniform
}

// timelineSegments lays out body0, trans0, body1, ... in timeline order.
func timelineSegments(tl Timeline, dir string, withAudio bool) []segment {
	r, uniform := target(tl.Clips)
	var segs []segment

	for i, body := range tl.Bodies {
		if body.Duration >= minBodySeconds {
			c := tl.Clips[body.Clip]
			out := filepath.Join(dir, fmt.Sprintf("body_%04d.mp4", i))
			b := body
			if uniform {
				segs = append(segs, segment{index: len(segs), output: out, copy: true, render: func(backend.Plan) []string {
					if withAudio && !c.HasAudio {
						return silentTrimArgs(c, out, b.Start, b.Duration)
					}
					return ffmpeg.TrimArgs(c.Path, out, b.Start, b.Duration, !withAudio)
				}})
			} else {
				segs = append(segs, segment{index: len(segs), output: out, render: func(plan backend.Plan) []string {
					return normalizeArgs(c, out, b.Start, b.Duration, r, "", withAudio, plan)
				}})
			}
		}

		if i < len(tl.Transitions) && tl.Transitions[i].Duration > 0 {
			tr := tl.Transitions[i]
			a, b := tl.Clips[i], tl.Clips[i+1]
			out := filepath.Join(dir, fmt.Sprintf("trans_%04d.mp4", i))
			segs = append(segs, segment{index: len(segs), output: out, render: func(plan backend.Plan) []string {
				return transitionArgs(a, b, tr, r, withAudio, out, plan)
			}})
		}
	}
	return segs
}

// holdSegments re-renders every clip with half a transition of fade to black
// at each joined end.
func holdSegments(tl Timeline, dir string, withAudio bool) []segment {
	r, _ := target(tl.Clips)
	segs := make([]segment, len(tl.Clips))

	for i, c := range tl.Clips {
		start, end := 0.0, c.Duration
		var fades []string
		var afades []string
		if i > 0 {
			half := tl.Transitions[i-1].Duration / 2
			start = half
			fades = append(fades, "fade=t=in:st=0:d="+filterchain.FormatNumber(half))
			afades = append(afades, "afade=t=in:st=0:d="+filterchain.FormatNumber(half))
		}
		if i < len(tl.Clips)-1 {
			half := tl.Transitions[i].Duration / 2
			end = c.Duration - half
			st := filterchain.FormatNumber(end - start - half)
			fades = append(fades, "fade=t=out:st="+st+":d="+filterchain.FormatNumber(half))
			afades = append(afades, "afade=t=out:st="+st+":d="+filterchain.FormatNumber(half))
		}

		clip, out := c, filepath.Join(dir, fmt.Sprintf("body_%04d.mp4", i))
		from, length := start, end-start
		vf := strings.Join(fades, ",")
		af := strings.Join(afades, ",")
		segs[i] = segment{index: i, output: out, render: func(plan backend.Plan) []string {
			args := normalizeArgs(clip, out, from, length, r, vf, withAudio, plan)
			if withAudio && af != "" {
				args = insertBefore(args, "-c:a", "-af", af)
			}
			return args
		}}
	}
	return segs
}

// fitFilter scales into r, pads the rest black and fixes the frame rate.
func fitFilter(r raster) string {
	w, h := r.width, r.height
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1,fps=%s",
		w, h, w, h, filterchain.FormatNumber(r.fps),
	)
}

// silentTrimArgs stream-copies a range of a clip without audio and pairs it
// with generated silence.
func silentTrimArgs(c Clip, output string, start, duration float64) []string {
	args := []string{"-hide_banner", "-nostdin",
		"-ss", ffmpeg.Seconds(start),
		"-t", ffmpeg.Seconds(duration),
		"-i", c.Path,
	}
	args = append(args, ffmpeg.SilenceArgs(duration)...)
	args = append(args, "-map", "0:v:0", "-map", "1:a:0", "-c:v", "copy")
	args = append(args, ffmpeg.AudioEncodeArgs()...)
	return append(args, "-avoid_negative_ts", "make_zero", "-y", output)
}

// normalizeArgs re-encodes a range of clip into the merge raster. extra is
// appended to the video filter.
func normalizeArgs(c Clip, output string, start, duration float64, r raster, extra string, withAudio bool, plan backend.Plan) []string {
	hwIn, encOut := plan.EncoderArgs()
	vf := fitFilter(r)
	if extra != "" {
		vf += "," + extra
	}
	vf += ",format=yuv420p"

	args := append([]string{"-hide_banner", "-nostdin"}, hwIn...)
	args = append(args,
		"-ss", ffmpeg.Seconds(start),
		"-t", ffmpeg.Seconds(duration),
		"-i", c.Path,
	)
	audioMap := "0:a:0"
	if withAudio && !c.HasAudio {
		args = append(args, ffmpeg.SilenceArgs(duration)...)
		audioMap = "1:a:0"
	}
	args = append(args, "-map", "0:v:0", "-vf", vf)
	args = append(args, encOut...)
	if withAudio {
		args = append(args, "-map", audioMap)
		args = append(args, ffmpeg.AudioEncodeArgs()...)
	} else {
		args = append(args, "-an")
	}
	return append(args, "-movflags", "+faststart", "-y", output)
}

// transitionArgs renders tr from the tail of a and the head of b, both seeked
// on the input side. A side without audio crossfades from or into silence.
func transitionArgs(a, b Clip, tr TransitionSpec, r raster, withAudio bool, output string, plan backend.Plan) []string {
	hwIn, encOut := plan.EncoderArgs()
	t := ffmpeg.Seconds(tr.Duration)

	args := append([]string{"-hide_banner", "-nostdin"}, hwIn...)
	args = append(args,
		"-ss", ffmpeg.Seconds(tr.TailStart), "-t", t, "-i", a.Path,
		"-ss", "0", "-t", t, "-i", b.Path,
	)

	graph := fmt.Sprintf(
		"[0:v]%[1]s,format=yuv420p[va];[1:v]%[1]s,format=yuv420p[vb];"+
			"[va][vb]xfade=transition=%[2]s:duration=%[3]s:offset=0,format=yuv420p[vout]",
		fitFilter(r), tr.Name, filterchain.FormatNumber(tr.Duration),
	)
	if withAudio {
		next := 2
		audioIn := func(c Clip, own int) string {
			if c.HasAudio {
				return fmt.Sprintf("[%d:a]", own)
			}
			args = append(args, ffmpeg.SilenceArgs(tr.Duration)...)
			next++
			return fmt.Sprintf("[%d:a]", next-1)
		}
		fromA := audioIn(a, 0)
		intoB := audioIn(b, 1)
		graph += fmt.Sprintf(";%s%sacrossfade=d=%s[aout]", fromA, intoB, filterchain.FormatNumber(tr.Duration))
	}

	args = append(args,
		"-filter_complex", graph,
		"-map", "[vout]",
	)
	args = append(args, encOut...)
	if withAudio {
		args = append(args, "-map", "[aout]")
		args = append(args, ffmpeg.AudioEncodeArgs()...)
	} else {
		args = append(args, "-an")
	}
	return append(args, "-movflags", "+faststart", "-y", output)
}

func insertBefore(args []string, marker string, extra ...string) []string {
	for i, a := range args {
		if a == marker {
			out := append([]string{}, args[:i]...)
			out = append(out, extra...)
			return append(out, args[i:]...)
		}
	}
	return args
}
