package platform

import "github.com/ZacxDev/video-forge/pkg/types"

type Instagram struct{}

func init() {
	Register(&Instagram{})
}

func (p *Instagram) GetName() string {
	return string(types.ProcessingPlatformInstagramReel)
}

func (p *Instagram) GetMaxDimensions() (width, height int) {
	return 1080, 1920
}

func (p *Instagram) GetMaxDuration() int {
	return 90
}

func (p *Instagram) GetAudioBitrate() string {
	return "128k"
}
