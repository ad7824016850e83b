package types

type ProcessingPlatform string

const (
	ProcessingPlatformTikTok        ProcessingPlatform = "tiktok"
	ProcessingPlatformInstagramReel ProcessingPlatform = "instagram-reel"
	ProcessingPlatformReddit        ProcessingPlatform = "reddit"
	ProcessingPlatformXTwitter      ProcessingPlatform = "x-twitter"
)

// Status is the terminal state of an operation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Result is reported exactly once per export, merge or batch item.
type Result struct {
	Status     Status `json:"status"`
	OutputPath string `json:"output_path,omitempty"`
	Message    string `json:"message,omitempty"`
}

// OK reports whether the operation produced its output.
func (r Result) OK() bool {
	return r.Status == StatusSucceeded
}
