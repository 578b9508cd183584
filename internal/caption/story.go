package caption

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maauso/tripreel-api/internal/media"
)

// DefaultVoiceTone is used when the model reply cannot be parsed.
const DefaultVoiceTone = "neutral"

// Story is the caption generated for one media file.
type Story struct {
	StoryText            string   `json:"story_text"`
	RecommendedVoiceTone string   `json:"recommended_voice_tone"`
	DurationSeconds      *float64 `json:"duration_seconds,omitempty"`
}

// Request describes one file to caption.
type Request struct {
	Path     string
	Kind     media.Kind
	Location string
	// Duration is the video length in seconds. Ignored for images.
	Duration float64
}

// BuildPrompt returns the instruction sent alongside the uploaded file.
func BuildPrompt(req Request) string {
	var b strings.Builder
	if req.Kind == media.KindVideo {
		b.WriteString("You are an Expert Videographer that helps to storytell moments.\n")
		b.WriteString("1. Recognize the video and create a travel story about it.\n")
		fmt.Fprintf(&b, "2. Script should be according to the length of the video: %.2f seconds. Keep it short so it can be added to the video.\n", req.Duration)
		fmt.Fprintf(&b, "3. Location: %s\n", req.Location)
		b.WriteString("4. Return response in JSON format with keys: story_text, duration_seconds, recommended_voice_tone\n")
		return b.String()
	}

	b.WriteString("You are an Expert Photographer that helps to storytell moments.\n")
	b.WriteString("1. Recognize the image and create a travel story about it.\n")
	fmt.Fprintf(&b, "2. Location: %s\n", req.Location)
	b.WriteString("3. Return response in JSON format with keys: story_text, recommended_voice_tone\n")
	return b.String()
}

// ParseStory decodes the model reply. Replies that are not a JSON object
// become the story text verbatim with the default voice tone.
func ParseStory(raw string, req Request) Story {
	var s Story
	if err := json.Unmarshal([]byte(stripFence(raw)), &s); err != nil || s.StoryText == "" {
		s = Story{StoryText: strings.TrimSpace(raw), RecommendedVoiceTone: DefaultVoiceTone}
	}
	if s.RecommendedVoiceTone == "" {
		s.RecommendedVoiceTone = DefaultVoiceTone
	}

	if req.Kind == media.KindVideo {
		if s.DurationSeconds == nil {
			d := req.Duration
			s.DurationSeconds = &d
		}
	} else {
		s.DurationSeconds = nil
	}
	return s
}

// stripFence removes a markdown code fence around a JSON reply.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
