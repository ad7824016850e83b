package platform

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Platform describes an output raster target. Templates resolve either to a
// registered platform or to a bare aspect preset.
type Platform interface {
	// GetName returns the template name used in effect configurations
	GetName() string

	// GetMaxDimensions returns the output raster
	GetMaxDimensions() (width, height int)

	// GetMaxDuration returns the longest recommended output in seconds, 0 if unbounded
	GetMaxDuration() int

	// GetAudioBitrate returns the recommended audio bitrate
	GetAudioBitrate() string
}

var platforms = make(map[string]Platform)

// Register adds a platform to the registry
func Register(p Platform) {
	platforms[p.GetName()] = p
}

// Get returns a platform by name
func Get(name string) (Platform, error) {
	p, ok := platforms[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unsupported frame template: %s", name)
	}
	return p, nil
}

// GetSupportedPlatforms returns the sorted list of registered template names
func GetSupportedPlatforms() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve maps a frame template to an even output raster. Accepted forms are a
// registered name ("tiktok", "9:16", "16:9-720p") or an explicit "WxH".
func Resolve(template string) (width, height int, err error) {
	t := strings.ToLower(strings.TrimSpace(template))
	if t == "" {
		return 0, 0, errors.New("empty frame template")
	}

	if p, err := Get(t); err == nil {
		w, h := p.GetMaxDimensions()
		return w, h, nil
	}

	if w, h, ok := parseExplicit(t); ok {
		return w, h, nil
	}

	return 0, 0, errors.Errorf("unsupported frame template: %s", template)
}

func parseExplicit(t string) (int, int, bool) {
	parts := strings.Split(t, "x")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w < 16 || h < 16 || w > 8192 || h > 8192 {
		return 0, 0, false
	}
	// Ensure dimensions are even
	return w - w%2, h - h%2, true
}
