package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ZacxDev/video-forge/internal/backend"
	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/ffmpeg"
	"github.com/ZacxDev/video-forge/internal/filterchain"
	"github.com/ZacxDev/video-forge/internal/metrics"
	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// Job is one transcode of a source range. Index is the only ordering key
// used when outputs are stitched.
type Job struct {
	Index  int
	Source string
	// Start and Duration select a range of Source; zero Duration means the
	// whole file.
	Start    float64
	Duration float64
	Output   string
	HasAudio bool
	Plan     backend.Plan
	Chain    filterchain.Chain
	Logo     string
}

func (j Job) label() string {
	return fmt.Sprintf("enc_%04d", j.Index)
}

// runJob encodes j on its planned path with one software fallback.
func (p *Processor) runJob(ctx context.Context, op *operation.Operation, j Job) error {
	return p.withFallback(ctx, op, j.Index, j.Plan, func(plan backend.Plan) error {
		return p.encodeSteps(ctx, j, plan)
	})
}

// withFallback runs encode on plan. A hardware failure is retried once on the
// software path; a software failure is terminal. Cancellation is never retried.
func (p *Processor) withFallback(ctx context.Context, op *operation.Operation, index int, plan backend.Plan, encode func(backend.Plan) error) error {
	err := timed(plan, encode)
	if err == nil || IsCancelled(err) {
		return err
	}

	if plan.Path.Hardware() {
		metrics.HardwareFallbacksTotal.Inc()
		op.Warn("encode", fmt.Sprintf("job %d: %s encode failed, retrying in software: %v", index, plan.Path, err))
		plan = plan.Fallback()
		err = timed(plan, encode)
		if err == nil || IsCancelled(err) {
			return err
		}
	}
	return &EncodeError{Index: index, Path: plan.Path, Err: err}
}

func timed(plan backend.Plan, encode func(backend.Plan) error) error {
	start := time.Now()
	err := encode(plan)

	status := "succeeded"
	switch {
	case IsCancelled(err):
		status = "stopped"
	case err != nil:
		status = "failed"
	}
	metrics.JobsTotal.WithLabelValues(plan.Path.String(), status).Inc()
	metrics.JobDuration.WithLabelValues(plan.Path.String()).Observe(time.Since(start).Seconds())
	return err
}

func (p *Processor) encodeSteps(ctx context.Context, j Job, plan backend.Plan) error {
	label := supervisor.WithLabel(j.label())

	if !plan.SeparateAudio || !j.HasAudio {
		return p.runner.Run(ctx, videoArgs(j, plan, true), label)
	}

	dir := filepath.Dir(j.Output)
	videoOnly := filepath.Join(dir, fmt.Sprintf("enc_%04d_v.mp4", j.Index))
	audioOnly := filepath.Join(dir, fmt.Sprintf("enc_%04d_a.m4a", j.Index))

	vj := j
	vj.Output = videoOnly
	if err := p.runner.Run(ctx, videoArgs(vj, plan, false), label); err != nil {
		return err
	}
	aj := j
	aj.Output = audioOnly
	if err := p.runner.Run(ctx, audioArgs(aj), label); err != nil {
		return err
	}
	return p.runner.Run(ctx, ffmpeg.MuxArgs(videoOnly, audioOnly, j.Output), label)
}

func inputRange(j Job) []string {
	if j.Duration <= 0 {
		return nil
	}
	return []string{"-ss", ffmpeg.Seconds(j.Start), "-t", ffmpeg.Seconds(j.Duration)}
}

// videoArgs builds the encode command. withAudio keeps the audio stream,
// adjusted for tempo only; otherwise audio is dropped for a separate pass.
func videoArgs(j Job, plan backend.Plan, withAudio bool) []string {
	hwIn, encOut := plan.EncoderArgs()

	args := []string{"-hide_banner", "-nostdin"}
	args = append(args, hwIn...)
	args = append(args, inputRange(j)...)
	args = append(args, "-i", j.Source)

	if j.Chain.Graph != nil {
		args = append(args, "-loop", "1", "-i", j.Logo)
		args = append(args,
			"-filter_complex", j.Chain.FilterComplex(),
			"-map", j.Chain.Graph.Output,
		)
		if withAudio {
			args = append(args, "-map", "0:a?")
		}
	} else {
		args = append(args, "-vf", j.Chain.VideoFilter())
	}

	args = append(args, encOut...)

	if withAudio && j.HasAudio {
		if tempo := j.Chain.TempoOps(); len(tempo) > 0 {
			args = append(args, "-af", filterchain.Chain{Audio: tempo}.AudioFilter())
		}
		args = append(args,
			"-c:a", config.DefaultAudioCodec,
			"-b:a", config.DefaultAudioBitrate,
		)
	} else {
		args = append(args, "-an")
	}

	return append(args, "-movflags", "+faststart", "-y", j.Output)
}

// audioArgs renders the full audio chain of j into an AAC file.
func audioArgs(j Job) []string {
	args := []string{"-hide_banner", "-nostdin"}
	args = append(args, inputRange(j)...)
	args = append(args, "-i", j.Source, "-vn")
	if af := j.Chain.AudioFilter(); af != "" {
		args = append(args, "-af", af)
	}
	return append(args,
		"-c:a", config.DefaultAudioCodec,
		"-b:a", config.DefaultAudioBitrate,
		"-ar", fmt.Sprint(config.AudioSampleRate),
		"-y", j.Output,
	)
}
