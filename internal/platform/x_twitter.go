package platform

import "github.com/ZacxDev/video-forge/pkg/types"

type Twitter struct{}

func init() {
	Register(&Twitter{})
}

func (p *Twitter) GetName() string {
	return string(types.ProcessingPlatformXTwitter)
}

func (p *Twitter) GetMaxDimensions() (width, height int) {
	return 1920, 1200
}

func (p *Twitter) GetMaxDuration() int {
	return 140
}

func (p *Twitter) GetAudioBitrate() string {
	return "128k"
}
