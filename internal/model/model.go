// Package model defines the documents exchanged between pipeline stages and
// their external collaborators.
package model

// NarrationLine is one narrated sentence of a script with its display timing
// hint and the prompt used to generate its background image.
type NarrationLine struct {
	Text        string  `json:"text"`
	Duration    float64 `json:"duration"`
	ImagePrompt string  `json:"image_prompt,omitempty"`
}

// ScriptDocument is the Script stage output: the full narration plus the
// publishing metadata derived alongside it.
type ScriptDocument struct {
	Title       string          `json:"title"`
	Hook        string          `json:"hook,omitempty"`
	Narration   []NarrationLine `json:"narration"`
	Tags        []string        `json:"tags,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Segment is the narration timing for one line of audio, measured from the
// start of the assembled narration track.
type Segment struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	File  string  `json:"file"`
}

// ImageResult records the outcome of one image prompt.
type ImageResult struct {
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
	File   string `json:"file,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Clip describes a downloaded stock media clip.
type Clip struct {
	Index      int     `json:"index"`
	ProviderID string  `json:"provider_id"`
	File       string  `json:"file"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Quality    string  `json:"quality,omitempty"`
	Credit     string  `json:"credit,omitempty"`
	SourceURL  string  `json:"source_url,omitempty"`
	License    string  `json:"license,omitempty"`
}

// PublishReceipt is the Publish stage output.
type PublishReceipt struct {
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
}
