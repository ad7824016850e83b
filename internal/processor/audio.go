package processor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/ffmpeg"
	"github.com/ZacxDev/video-forge/internal/filterchain"
	"github.com/ZacxDev/video-forge/internal/metrics"
	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// AudioPlan names the optional extra tracks laid under the clip audio.
type AudioPlan struct {
	Ambient []string `json:"ambient,omitempty" yaml:"ambient,omitempty"`
	Music   string   `json:"music,omitempty" yaml:"music,omitempty"`
}

// Empty reports whether there is nothing to mix in.
func (a AudioPlan) Empty() bool {
	return len(a.Ambient) == 0 && a.Music == ""
}

// AudioAssembler builds the final soundtrack of an export or merge.
type AudioAssembler struct {
	*Processor
}

// Assemble extracts the audio of clips, lays ambient tracks and looped music
// under it and returns the path of the mixed track, or "" when nothing could
// be produced. A failed stage is reported as a warning and skipped; only a
// stop request returns an error.
func (a *AudioAssembler) Assemble(op *operation.Operation, clips []Clip, plan AudioPlan, total float64, dir string) (string, error) {
	ctx := op.Context()
	gains := a.settings.Audio

	cancelled := false
	run := func(stage, label string, args []string) bool {
		if cancelled || op.Stopped() {
			cancelled = true
			return false
		}
		err := a.runner.Run(ctx, args, supervisor.WithLabel(label))
		if err == nil {
			return true
		}
		if IsCancelled(err) {
			cancelled = true
			return false
		}
		metrics.AudioDegradationsTotal.WithLabelValues(stage).Inc()
		op.Warn("audio", fmt.Sprintf("%s skipped: %v", stage, err))
		return false
	}

	// Clip audio.
	var extracted []string
	for i, c := range clips {
		if !c.HasAudio {
			continue
		}
		out := filepath.Join(dir, fmt.Sprintf("clip_audio_%04d.m4a", i))
		if run("extract", "audio_extract", ffmpeg.ExtractAudioArgs(c.Path, out)) {
			extracted = append(extracted, out)
		}
	}
	track := ""
	switch len(extracted) {
	case 0:
	case 1:
		track = extracted[0]
	default:
		out := filepath.Join(dir, "clip_audio.m4a")
		if concatAudio := audioConcatArgs(extracted, out); run("clip_concat", "audio_concat", concatAudio) {
			track = out
		} else {
			track = extracted[0]
		}
	}

	// Ambient bed.
	if len(plan.Ambient) > 0 {
		bed := filepath.Join(dir, "ambient.m4a")
		if run("ambient_concat", "ambient_concat", audioConcatArgs(plan.Ambient, bed)) {
			if track == "" {
				track = bed
			} else {
				mixed := filepath.Join(dir, "ambient_mix.m4a")
				args := mixArgs(track, bed, gains.ClipGain, gains.AmbientGain, "first", false, 0, mixed)
				if run("ambient_mix", "ambient_mix", args) {
					track = mixed
				}
			}
		}
	}

	// Music, looped to the output length.
	if plan.Music != "" {
		out := filepath.Join(dir, "music_mix.m4a")
		var args []string
		if track == "" {
			args = musicOnlyArgs(plan.Music, gains.MusicGain, total, out)
		} else {
			args = mixArgs(track, plan.Music, 1, gains.MusicGain, "shortest", true, total, out)
		}
		if run("music_mix", "music_mix", args) {
			track = out
		}
	}

	if cancelled {
		return "", supervisor.ErrCancelled
	}
	return track, nil
}

// audioConcatArgs re-encodes and joins the audio of inputs in order.
func audioConcatArgs(inputs []string, output string) []string {
	if len(inputs) == 1 {
		return ffmpeg.ExtractAudioArgs(inputs[0], output)
	}
	var args []string
	var labels strings.Builder
	for i, in := range inputs {
		args = append(args, "-i", in)
		fmt.Fprintf(&labels, "[%d:a]", i)
	}
	graph := fmt.Sprintf("%sconcat=n=%d:v=0:a=1[aout]", labels.String(), len(inputs))
	args = append(args, "-filter_complex", graph, "-map", "[aout]")
	return append(args, encodeAudio(output)...)
}

// mixArgs lays second under first at the given gains. loop repeats the second
// input forever so it can be cut at total seconds.
func mixArgs(first, second string, firstGain, secondGain float64, duration string, loop bool, total float64, output string) []string {
	args := []string{"-i", first}
	if loop {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-i", second)

	graph := fmt.Sprintf(
		"[0:a]volume=%s[a0];[1:a]volume=%s[a1];[a0][a1]amix=inputs=2:duration=%s:dropout_transition=0:normalize=0[aout]",
		filterchain.FormatNumber(firstGain), filterchain.FormatNumber(secondGain), duration,
	)
	args = append(args, "-filter_complex", graph, "-map", "[aout]")
	if total > 0 {
		args = append(args, "-t", ffmpeg.Seconds(total))
	}
	return append(args, encodeAudio(output)...)
}

func musicOnlyArgs(music string, gain, total float64, output string) []string {
	args := []string{"-stream_loop", "-1", "-i", music, "-vn",
		"-af", "volume=" + filterchain.FormatNumber(gain)}
	if total > 0 {
		args = append(args, "-t", ffmpeg.Seconds(total))
	}
	return append(args, encodeAudio(output)...)
}

func encodeAudio(output string) []string {
	return []string{
		"-c:a", config.DefaultAudioCodec,
		"-b:a", config.DefaultAudioBitrate,
		"-ar", fmt.Sprint(config.AudioSampleRate),
		"-y", output,
	}
}
