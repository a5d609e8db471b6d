package tts

import (
	"sort"
	"strings"
)

// OpenAIVoices is the speech voice allow-list for the OpenAI provider
var OpenAIVoices = map[string]bool{
	"alloy":   true,
	"ash":     true,
	"ballad":  true,
	"coral":   true,
	"echo":    true,
	"fable":   true,
	"nova":    true,
	"onyx":    true,
	"sage":    true,
	"shimmer": true,
	"verse":   true,
}

// DefaultOpenAIVoice is used when no valid voice was requested
const DefaultOpenAIVoice = "alloy"

// ElevenLabsVoices maps preset names to ElevenLabs voice IDs
var ElevenLabsVoices = map[string]string{
	"rachel":    "21m00Tcm4TlvDq8ikWAM", // American female, calm
	"charlotte": "XB0fDUnXU5powFXDhCwa", // British female, warm
	"aria":      "9BWtsMINqrJLrRacOk9x",
	"sarah":     "EXAVITQu4vr4xnSDxMaL",
	"lily":      "pFZP5JQG7iQjIQuC4Bku",
	"domi":      "AZnzlk1XvdvUeBnXmlld",
	"elli":      "MF3mGyEYCl7XYWbV9V6O",
	"josh":      "TxGEqnHWrfWFTfGW9XjX", // American male, deep
	"adam":      "pNInz6obpgDQGcFmaJgB",
	"sam":       "yoZ06aMxZJJ28mfd3POQ",
}

// DefaultElevenLabsVoice is used when no valid voice was requested
const DefaultElevenLabsVoice = "rachel"

// resolveOpenAIVoice returns voice when allowed, otherwise the default
func resolveOpenAIVoice(voice string) string {
	v := strings.ToLower(strings.TrimSpace(voice))
	if OpenAIVoices[v] {
		return v
	}
	return DefaultOpenAIVoice
}

// resolveElevenLabsVoice returns the voice ID for a preset name. Unknown names
// fall back to the default preset.
func resolveElevenLabsVoice(voice string) string {
	if id, ok := ElevenLabsVoices[strings.ToLower(strings.TrimSpace(voice))]; ok {
		return id
	}
	return ElevenLabsVoices[DefaultElevenLabsVoice]
}

// voiceNames returns the sorted keys of an allow-list
func voiceNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
