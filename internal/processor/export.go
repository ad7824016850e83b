package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/ZacxDev/video-forge/internal/backend"
	"github.com/ZacxDev/video-forge/internal/effects"
	"github.com/ZacxDev/video-forge/internal/ffmpeg"
	"github.com/ZacxDev/video-forge/internal/filterchain"
	"github.com/ZacxDev/video-forge/internal/metrics"
	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// ExportRequest describes one single-source export. Output must already be
// reserved by the caller.
type ExportRequest struct {
	Source  string
	Output  string
	Effects effects.Configuration
	Audio   AudioPlan
}

// Exporter applies an effects configuration to one source using split and
// stitch.
type Exporter struct {
	*Processor
}

// NewExporter creates an exporter sharing p.
func NewExporter(p *Processor) *Exporter {
	return &Exporter{Processor: p}
}

// Export renders req and returns the output path. The temp directory is
// removed on every return path.
func (e *Exporter) Export(op *operation.Operation, req ExportRequest) (string, error) {
	ctx := op.Context()

	meta, err := e.prober.Probe(ctx, req.Source)
	if err != nil {
		if IsCancelled(err) || op.Stopped() {
			return "", supervisor.ErrCancelled
		}
		return "", &ProbeError{Path: req.Source, Err: err}
	}

	chain := filterchain.Build(req.Effects)
	plan := e.threaded(backend.Select(req.Effects, op.Caps != nil && op.Caps.Probe(ctx)))
	op.Info("plan", fmt.Sprintf("%s path, %.1fs source at %d kb/s", plan.Path, meta.Duration, meta.Bitrate/1000))

	dir, err := e.workDir(req.Output)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	sources, err := e.split(ctx, op, req, meta.Duration, dir)
	if err != nil {
		return "", err
	}

	jobs := make([]Job, len(sources))
	for i, src := range sources {
		jobs[i] = Job{
			Index:    i,
			Source:   src,
			Output:   filepath.Join(dir, fmt.Sprintf("enc_%04d.mp4", i)),
			HasAudio: meta.HasAudio,
			Plan:     plan,
			Chain:    chain,
			Logo:     req.Effects.Logo.Path,
		}
	}

	size := e.settings.SoftwareWorkers()
	if plan.Path.Hardware() {
		size = e.settings.HardwareWorkers
	}

	done := make([]string, len(jobs))
	err = runPool(op, size, len(jobs), func(ctx context.Context, i int) error {
		if err := e.runJob(ctx, op, jobs[i]); err != nil {
			return err
		}
		done[i] = jobs[i].Output
		op.Info("encode", fmt.Sprintf("part %d/%d done", i+1, len(jobs)))
		return nil
	})
	if err != nil {
		return "", err
	}

	stitched, err := e.stitch(ctx, op, done, dir, "stitched.mp4")
	if err != nil {
		return "", err
	}

	if !req.Audio.Empty() {
		total := meta.Duration / req.Effects.EffectiveSpeed()
		clips := []Clip{{Path: stitched, Duration: total, HasAudio: meta.HasAudio}}
		stitched, err = e.overlayAudio(op, stitched, clips, req.Audio, total, dir)
		if err != nil {
			return "", err
		}
	}

	if op.Stopped() {
		return "", supervisor.ErrCancelled
	}
	if err := moveInto(stitched, req.Output); err != nil {
		return "", err
	}
	return req.Output, nil
}

// split returns the inputs of the encode jobs: the source itself when it fits
// in one chunk or carries time-anchored subtitles, otherwise the chunk files.
func (e *Exporter) split(ctx context.Context, op *operation.Operation, req ExportRequest, duration float64, dir string) ([]string, error) {
	chunk := e.settings.ChunkSeconds
	if duration <= float64(chunk) || req.Effects.SubtitlePath != "" {
		return []string{req.Source}, nil
	}

	pattern := filepath.Join(dir, "chunk_%04d.mp4")
	if err := e.runner.Run(ctx, ffmpeg.SplitArgs(req.Source, pattern, chunk), supervisor.WithLabel("split")); err != nil {
		if IsCancelled(err) {
			return nil, supervisor.ErrCancelled
		}
		return nil, errors.Wrap(err, "error splitting video")
	}

	if op.Stopped() {
		return nil, supervisor.ErrCancelled
	}
	chunks, err := filepath.Glob(filepath.Join(dir, "chunk_*.mp4"))
	if err != nil {
		return nil, errors.Wrap(err, "list chunks")
	}
	if len(chunks) == 0 {
		return nil, errors.New("split produced no chunks")
	}
	slices.Sort(chunks)
	op.Info("split", fmt.Sprintf("%d chunks of %ds", len(chunks), chunk))
	return chunks, nil
}

// stitch concatenates parts in slice order into dir/name.
func (p *Processor) stitch(ctx context.Context, op *operation.Operation, parts []string, dir, name string) (string, error) {
	if op.Stopped() {
		return "", supervisor.ErrCancelled
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	op.Info("stitch", fmt.Sprintf("stitching %d parts", len(parts)))
	list := filepath.Join(dir, "concat_list.txt")
	if err := ffmpeg.WriteConcatList(list, parts); err != nil {
		return "", err
	}
	out := filepath.Join(dir, name)
	if err := p.runner.Run(ctx, ffmpeg.ConcatArgs(list, out), supervisor.WithLabel("concat")); err != nil {
		if IsCancelled(err) {
			return "", supervisor.ErrCancelled
		}
		return "", errors.Wrap(err, "error concatenating parts")
	}
	return out, nil
}

// overlayAudio assembles the soundtrack and muxes it over video. Any failure
// other than a stop keeps video as it is.
func (p *Processor) overlayAudio(op *operation.Operation, video string, clips []Clip, plan AudioPlan, total float64, dir string) (string, error) {
	assembler := &AudioAssembler{Processor: p}
	track, err := assembler.Assemble(op, clips, plan, total, dir)
	if err != nil {
		return "", err
	}
	if track == "" {
		op.Warn("audio", "no soundtrack produced, keeping video audio")
		return video, nil
	}

	out := filepath.Join(dir, "with_audio.mp4")
	if err := p.runner.Run(op.Context(), ffmpeg.MuxArgs(video, track, out), supervisor.WithLabel("audio_mux")); err != nil {
		if IsCancelled(err) {
			return "", supervisor.ErrCancelled
		}
		metrics.AudioDegradationsTotal.WithLabelValues("mux").Inc()
		op.Warn("audio", fmt.Sprintf("soundtrack mux skipped: %v", err))
		return video, nil
	}
	return out, nil
}
