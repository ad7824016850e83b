package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ZacxDev/video-forge/internal/backend"
	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/ffmpeg"
	"github.com/ZacxDev/video-forge/internal/logging"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// Processor holds what every orchestration step shares: settings, the
// process runner and the media prober.
type Processor struct {
	settings *config.Settings
	runner   supervisor.Runner
	prober   ffmpeg.Prober
	log      zerolog.Logger
}

// New creates a processor. A nil settings uses the defaults.
func New(settings *config.Settings, runner supervisor.Runner, prober ffmpeg.Prober) *Processor {
	if settings == nil {
		settings = config.Default()
	}
	return &Processor{
		settings: settings,
		runner:   runner,
		prober:   prober,
		log:      logging.WithComponent("processor"),
	}
}

// threaded splits the host thread budget across the software pool.
func (p *Processor) threaded(plan backend.Plan) backend.Plan {
	plan.Threads = max(1, ffmpeg.GetOptimalThreadCount()/p.settings.SoftwareWorkers())
	return plan
}

// workDir creates the per-operation temp directory next to output so the
// final rename stays on one filesystem.
func (p *Processor) workDir(output string) (string, error) {
	parent := p.settings.TempDir
	if parent == "" {
		parent = filepath.Dir(output)
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", errors.Wrap(err, "create temp parent")
	}
	dir, err := os.MkdirTemp(parent, config.TempDirPrefix)
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp directory")
	}
	return dir, nil
}

var rename = os.Rename

// moveInto renames src over dst, copying when they sit on different filesystems.
func moveInto(src, dst string) error {
	if err := rename(src, dst); err == nil {
		return nil
	}

	// Copy next to dst so a failed copy never leaves a partial output.
	part := dst + ".part"
	if err := copyFile(src, part); err != nil {
		os.Remove(part)
		return err
	}
	if err := rename(part, dst); err != nil {
		os.Remove(part)
		return errors.Wrap(err, "rename final output")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open stitched output")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create final output")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, "copy final output")
	}
	return errors.Wrap(out.Close(), "close final output")
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-_.]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(filename string) string {
	sanitized := filename

	// Remove the old extension if present
	sanitized = strings.TrimSuffix(sanitized, filepath.Ext(sanitized))

	sanitized = unsafeChars.ReplaceAllString(sanitized, "_")
	sanitized = underscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_.")

	if sanitized == "" {
		sanitized = "output"
	}
	return sanitized
}

// Reservation is an output path held by a placeholder file.
type Reservation struct {
	Path        string
	placeholder bool
}

// Release removes the placeholder. Call it when the operation did not
// produce the file.
func (r *Reservation) Release() {
	if r == nil || !r.placeholder {
		return
	}
	if st, err := os.Stat(r.Path); err == nil && st.Size() == 0 {
		os.Remove(r.Path)
	}
}

// ReserveOutput returns explicit when set. Otherwise it claims
// <dir>/<base>_<suffix>.mp4, adding _1, _2... on collision. The claim is an
// empty placeholder created under a lock so concurrent processes never pick
// the same name.
func ReserveOutput(explicit, source, dir, suffix string) (*Reservation, error) {
	if explicit != "" {
		explicit = ffmpeg.EnsureExtension(explicit, ".mp4")
		if err := os.MkdirAll(filepath.Dir(explicit), 0o755); err != nil {
			return nil, errors.Wrap(err, "error creating output directory")
		}
		return &Reservation{Path: explicit}, nil
	}

	if dir == "" {
		dir = filepath.Dir(source)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "error creating output directory")
	}

	lock := flock.New(lockPath(dir))
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrap(err, "lock output directory")
	}
	defer lock.Unlock()

	base := sanitizeFilename(filepath.Base(source))
	if suffix != "" {
		base += "_" + suffix
	}

	for n := 0; n < 10000; n++ {
		name := base + ".mp4"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.mp4", base, n)
		}
		candidate := filepath.Join(dir, name)

		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, errors.Wrap(err, "reserve output")
		}
		f.Close()
		return &Reservation{Path: candidate, placeholder: true}, nil
	}
	return nil, errors.Errorf("no free output name for %s in %s", base, dir)
}

// lockPath keys the reservation lock by directory without writing into it.
func lockPath(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	sum := sha1.Sum([]byte(abs))
	return filepath.Join(os.TempDir(), "video-forge-"+hex.EncodeToString(sum[:6])+".lock")
}
