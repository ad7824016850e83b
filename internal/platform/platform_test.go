package platform

import (
	"testing"

	"golang.org/x/exp/slices"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		template string
		w, h     int
		wantErr  bool
	}{
		{"9:16", 1080, 1920, false},
		{"16:9", 1920, 1080, false},
		{"16:9-720p", 1280, 720, false},
		{"1:1", 1080, 1080, false},
		{"TikTok", 1080, 1920, false},
		{"reddit", 1920, 1080, false},
		{" instagram-reel ", 1080, 1920, false},
		{"1281x721", 1280, 720, false},
		{"640x480", 640, 480, false},
		{"", 0, 0, true},
		{"3:7", 0, 0, true},
		{"10x10", 0, 0, true},
		{"axb", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			w, h, err := Resolve(tt.template)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Resolve(%q) expected error", tt.template)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.template, err)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("Resolve(%q) = %dx%d, want %dx%d", tt.template, w, h, tt.w, tt.h)
			}
		})
	}
}

func TestGetSupportedPlatformsSorted(t *testing.T) {
	names := GetSupportedPlatforms()
	if !slices.IsSorted(names) {
		t.Errorf("names not sorted: %v", names)
	}
	for _, want := range []string{"tiktok", "instagram-reel", "reddit", "x-twitter", "9:16", "16:9"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing template %q in %v", want, names)
		}
	}
}
