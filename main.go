package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/effects"
	"github.com/ZacxDev/video-forge/internal/logging"
	"github.com/ZacxDev/video-forge/internal/metrics"
	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/platform"
	"github.com/ZacxDev/video-forge/internal/processor"
	"github.com/ZacxDev/video-forge/pkg/types"
	"github.com/ZacxDev/video-forge/pkg/videoprocessor"
)

var (
	settings *config.Settings
	engine   *videoprocessor.Engine

	rootCmd = &cobra.Command{
		Use:   "video-forge",
		Short: "Apply effects to videos and merge clips with transitions",
		Long: `video-forge turns an effects configuration into ffmpeg jobs, runs them on the
GPU when NVENC is available and stitches the results into one file.

Examples:
  # Mirror and warm-grade a video into a 9:16 frame
  video-forge export input.mp4 --mirror --grading warm --template 9:16

  # Apply an effects file to every video in a folder
  video-forge batch --effects look.yaml --output-dir ./out clips/*.mp4

  # Join three clips with a 1.5s dissolve and background music
  video-forge merge a.mp4 b.mp4 c.mp4 --transition dissolve --transition-seconds 1.5 --music song.mp3`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			configPath, _ := cmd.Flags().GetString("config")
			settings, err = config.Load(configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("log-level") {
				settings.Log.Level, _ = cmd.Flags().GetString("log-level")
			}
			if cmd.Flags().Changed("log-format") {
				settings.Log.Format, _ = cmd.Flags().GetString("log-format")
			}
			if cmd.Flags().Changed("metrics-addr") {
				settings.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
			}
			if noHW, _ := cmd.Flags().GetBool("no-hardware"); noHW {
				settings.DisableHardware = true
			}
			logging.Init(settings.Log.Level, settings.Log.Format)

			if settings.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(cmd.Context(), settings.MetricsAddr); err != nil {
						log.Error().Err(err).Str("addr", settings.MetricsAddr).Msg("metrics server stopped")
					}
				}()
			}

			engine = videoprocessor.New(settings)
			return nil
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export <input>",
		Short: "Apply effects to a single video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := effectsFromFlags(cmd)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			outputDir, _ := cmd.Flags().GetString("output-dir")
			ambient, music := audioFromFlags(cmd)

			r := engine.Export(cmd.Context(), videoprocessor.ExportRequest{
				Source:    args[0],
				Output:    output,
				OutputDir: outputDir,
				Effects:   cfg,
				Ambient:   ambient,
				Music:     music,
				Events:    printEvent,
			})
			return report([]string{args[0]}, []types.Result{r})
		},
	}

	batchCmd = &cobra.Command{
		Use:   "batch <input>...",
		Short: "Apply the same effects to many videos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := effectsFromFlags(cmd)
			if err != nil {
				return err
			}
			outputDir, _ := cmd.Flags().GetString("output-dir")
			ambient, music := audioFromFlags(cmd)

			results := engine.Batch(cmd.Context(), videoprocessor.BatchRequest{
				Sources:   args,
				OutputDir: outputDir,
				Effects:   cfg,
				Ambient:   ambient,
				Music:     music,
				Events:    printEvent,
			})
			return report(args, results)
		},
	}

	mergeCmd = &cobra.Command{
		Use:   "merge <clip> <clip>...",
		Short: "Join clips with transitions",
		Long: fmt.Sprintf(`Join two or more clips in order. Each pair is joined with an xfade
transition clamped to half of the shorter clip.

Transitions: none, random, fadeblack_hold,
%s`, wrap(processor.Transitions, 8)),
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			outputDir, _ := cmd.Flags().GetString("output-dir")
			transition, _ := cmd.Flags().GetString("transition")
			seconds, _ := cmd.Flags().GetFloat64("transition-seconds")
			seed, _ := cmd.Flags().GetInt64("seed")
			ambient, music := audioFromFlags(cmd)

			r := engine.Merge(cmd.Context(), videoprocessor.MergeRequest{
				Clips:             args,
				Output:            output,
				OutputDir:         outputDir,
				Transition:        transition,
				TransitionSeconds: seconds,
				Ambient:           ambient,
				Music:             music,
				Seed:              seed,
				Events:            printEvent,
			})
			return report([]string{strings.Join(args, " + ")}, []types.Result{r})
		},
	}

	hwprobeCmd = &cobra.Command{
		Use:   "hwprobe",
		Short: "Check whether the NVENC encoder works on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			available := engine.ProbeHardware(cmd.Context())
			path := "software"
			if available {
				path = "full_hardware / hybrid"
			}
			fmt.Println(renderTable(
				[]string{"ENCODER", "AVAILABLE", "PATH"},
				[][]string{{config.HardwareVideoCodec, strconv.FormatBool(available), path}},
				nil,
			))
			return nil
		},
	}

	templatesCmd = &cobra.Command{
		Use:   "templates",
		Short: "List frame templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows [][]string
			for _, name := range platform.GetSupportedPlatforms() {
				p, err := platform.Get(name)
				if err != nil {
					return err
				}
				w, h := p.GetMaxDimensions()
				maxDur := "-"
				if d := p.GetMaxDuration(); d > 0 {
					maxDur = strconv.Itoa(d) + "s"
				}
				rows = append(rows, []string{name, fmt.Sprintf("%dx%d", w, h), maxDur, p.GetAudioBitrate()})
			}
			fmt.Println(renderTable(
				[]string{"TEMPLATE", "RASTER", "MAX DURATION", "AUDIO"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
)

// effectsFromFlags loads --effects when given and applies the individual
// effect flags on top.
func effectsFromFlags(cmd *cobra.Command) (effects.Configuration, error) {
	var cfg effects.Configuration
	if path, _ := cmd.Flags().GetString("effects"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read effects file")
		}
		// YAML accepts JSON documents as well.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse effects file %s", path)
		}
	}

	f := cmd.Flags()
	if f.Changed("mirror") {
		cfg.Mirror, _ = f.GetBool("mirror")
	}
	if f.Changed("crop") {
		cfg.CropFraction, _ = f.GetFloat64("crop")
	}
	if f.Changed("rotate") {
		cfg.Rotation, _ = f.GetFloat64("rotate")
	}
	if f.Changed("grain") {
		cfg.Grain, _ = f.GetInt("grain")
	}
	if f.Changed("grading") {
		g, _ := f.GetString("grading")
		cfg.ColorGrading = effects.ColorGrading(g)
	}
	if f.Changed("zoom") {
		cfg.Zoom, _ = f.GetFloat64("zoom")
	}
	if f.Changed("template") {
		cfg.FrameTemplate, _ = f.GetString("template")
	}
	if f.Changed("text") {
		cfg.Text.Content, _ = f.GetString("text")
	}
	if f.Changed("logo") {
		cfg.Logo.Path, _ = f.GetString("logo")
	}
	if f.Changed("subtitles") {
		cfg.SubtitlePath, _ = f.GetString("subtitles")
	}
	if f.Changed("speed") {
		cfg.Speed, _ = f.GetFloat64("speed")
	}
	if f.Changed("pitch") {
		cfg.Pitch, _ = f.GetFloat64("pitch")
	}
	if f.Changed("volume") {
		cfg.Volume, _ = f.GetFloat64("volume")
	}
	if f.Changed("audio-evasion") {
		cfg.AudioEvasion, _ = f.GetBool("audio-evasion")
	}
	return cfg, nil
}

func audioFromFlags(cmd *cobra.Command) (ambient []string, music string) {
	ambient, _ = cmd.Flags().GetStringSlice("ambient")
	music, _ = cmd.Flags().GetString("music")
	return ambient, music
}

func printEvent(ev operation.Event) {
	switch ev.Level {
	case operation.LevelWarn:
		log.Warn().Str("phase", ev.Phase).Msg(ev.Message)
	case operation.LevelError:
		log.Error().Str("phase", ev.Phase).Msg(ev.Message)
	}
}

// report prints one row per result and fails when any item did not succeed.
func report(inputs []string, results []types.Result) error {
	rows := make([][]string, len(results))
	failed, stopped := 0, false
	for i, r := range results {
		detail := r.OutputPath
		if detail == "" {
			detail = r.Message
		}
		rows[i] = []string{filepath.Base(inputs[i]), string(r.Status), detail}
		switch r.Status {
		case types.StatusFailed:
			failed++
		case types.StatusStopped:
			stopped = true
		}
	}
	fmt.Println(renderTable([]string{"INPUT", "STATUS", "OUTPUT"}, rows, nil))

	switch {
	case stopped:
		return errors.New("stopped")
	case failed > 0:
		return errors.Errorf("%d of %d failed", failed, len(results))
	}
	return nil
}

func wrap(words []string, perLine int) string {
	var sb strings.Builder
	for i, w := range words {
		sb.WriteString(w)
		switch {
		case i == len(words)-1:
		case (i+1)%perLine == 0:
			sb.WriteString(",\n")
		default:
			sb.WriteString(", ")
		}
	}
	return sb.String()
}

func addEffectFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("effects", "", "YAML or JSON effects file")
	f.Bool("mirror", false, "Flip horizontally")
	f.Float64("crop", 0, "Centre crop fraction (0-0.4)")
	f.Float64("rotate", 0, "Rotation in degrees")
	f.Int("grain", 0, "Film grain strength (0-100)")
	f.String("grading", "", "Color grading (vibrant, warm, cool, vintage, cinematic, moody, mono)")
	f.Float64("zoom", 0, "Ken Burns zoom amount (0-0.5)")
	f.StringP("template", "t", "", "Frame template, e.g. 9:16, 1080x1920 or "+strings.Join(platformNames(), ", "))
	f.String("text", "", "Caption burned into the bottom-right corner")
	f.String("logo", "", "Logo image overlaid in the top-right corner")
	f.String("subtitles", "", "Subtitle file to burn in")
	f.Float64("speed", 1, "Playback speed factor (0.25-4)")
	f.Float64("pitch", 1, "Pitch factor (0.5-2)")
	f.Float64("volume", 1, "Volume factor (0-4)")
	f.Bool("audio-evasion", false, "Apply the audio fingerprint filters")
}

func addAudioFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("ambient", nil, "Ambient tracks laid under the clip audio")
	cmd.Flags().String("music", "", "Music track looped under the output")
}

func platformNames() []string {
	var names []string
	for _, n := range platform.GetSupportedPlatforms() {
		if !strings.Contains(n, ":") {
			names = append(names, n)
		}
	}
	return names
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Settings file (YAML or TOML)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "console", "Log format (console or json)")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	pf.Bool("no-hardware", false, "Never use the NVENC encoder")

	// Export command flags
	addEffectFlags(exportCmd)
	addAudioFlags(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: <input>_edited.mp4)")
	exportCmd.Flags().String("output-dir", "", "Directory for the generated output name")

	// Batch command flags
	addEffectFlags(batchCmd)
	addAudioFlags(batchCmd)
	batchCmd.Flags().String("output-dir", "", "Output directory (default: next to each input)")

	// Merge command flags
	addAudioFlags(mergeCmd)
	mergeCmd.Flags().StringP("output", "o", "", "Output file (default: <first clip>_merged.mp4)")
	mergeCmd.Flags().String("output-dir", "", "Directory for the generated output name")
	mergeCmd.Flags().String("transition", "fade", "Transition name")
	mergeCmd.Flags().Float64("transition-seconds", config.DefaultTransitionSeconds, "Transition duration")
	mergeCmd.Flags().Int64("seed", 0, "Seed for the random transition")

	rootCmd.AddCommand(exportCmd, batchCmd, mergeCmd, hwprobeCmd, templatesCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Warn().Msg("interrupt received, stopping")
		if engine != nil {
			engine.Stop()
		}
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
