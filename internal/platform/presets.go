package platform

// Aspect is a generic output preset keyed by its aspect ratio.
type Aspect struct {
	name          string
	width, height int
}

func init() {
	for _, a := range []*Aspect{
		{name: "16:9", width: 1920, height: 1080},
		{name: "16:9-720p", width: 1280, height: 720},
		{name: "9:16", width: 1080, height: 1920},
		{name: "9:16-720p", width: 720, height: 1280},
		{name: "1:1", width: 1080, height: 1080},
		{name: "4:5", width: 1080, height: 1350},
	} {
		Register(a)
	}
}

func (a *Aspect) GetName() string {
	return a.name
}

func (a *Aspect) GetMaxDimensions() (width, height int) {
	return a.width, a.height
}

func (a *Aspect) GetMaxDuration() int {
	return 0
}

func (a *Aspect) GetAudioBitrate() string {
	return "192k"
}
