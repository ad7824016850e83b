package platform

import "github.com/ZacxDev/video-forge/pkg/types"

type Reddit struct{}

func init() {
	Register(&Reddit{})
}

func (p *Reddit) GetName() string {
	return string(types.ProcessingPlatformReddit)
}

func (p *Reddit) GetMaxDimensions() (width, height int) {
	return 1920, 1080
}

func (p *Reddit) GetMaxDuration() int {
	return 300 // 5 minutes
}

func (p *Reddit) GetAudioBitrate() string {
	return "192k"
}
