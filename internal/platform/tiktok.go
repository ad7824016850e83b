package platform

import "github.com/ZacxDev/video-forge/pkg/types"

type TikTok struct{}

func init() {
	Register(&TikTok{})
}

func (p *TikTok) GetName() string {
	return string(types.ProcessingPlatformTikTok)
}

func (p *TikTok) GetMaxDimensions() (width, height int) {
	return 1080, 1920
}

func (p *TikTok) GetMaxDuration() int {
	return 180
}

func (p *TikTok) GetAudioBitrate() string {
	return "128k"
}
