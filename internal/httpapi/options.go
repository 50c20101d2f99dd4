package httpapi

import (
	"net/http"

	"github.com/ent0n29/parlor/internal/avatar"
)

type languageOption struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

type avatarOptionsResponse struct {
	Defaults      avatar.StartRequest         `json:"defaults"`
	Qualities     []avatar.Quality            `json:"qualities"`
	Emotions      []avatar.VoiceEmotion       `json:"emotions"`
	Transports    []avatar.VoiceChatTransport `json:"voice_chat_transports"`
	STTProviders  []avatar.STTProvider        `json:"stt_providers"`
	Languages     []languageOption            `json:"languages"`
	Greeting      string                      `json:"greeting,omitempty"`
	GreetingDelay int64                       `json:"greeting_delay_ms"`
	PartialMode   string                      `json:"transcript_partial_mode"`
	InactivityTTL int64                       `json:"inactivity_ttl_ms"`
}

var supportedLanguages = []languageOption{
	{Code: "en", Label: "English"},
	{Code: "es", Label: "Spanish"},
	{Code: "fr", Label: "French"},
	{Code: "de", Label: "German"},
	{Code: "it", Label: "Italian"},
	{Code: "pt", Label: "Portuguese"},
	{Code: "nl", Label: "Dutch"},
	{Code: "pl", Label: "Polish"},
	{Code: "ja", Label: "Japanese"},
	{Code: "ko", Label: "Korean"},
	{Code: "zh", Label: "Chinese"},
	{Code: "hi", Label: "Hindi"},
	{Code: "ar", Label: "Arabic"},
	{Code: "ru", Label: "Russian"},
	{Code: "tr", Label: "Turkish"},
	{Code: "sv", Label: "Swedish"},
}

// handleAvatarOptions serves what a settings panel needs to build its
// controls: the configured defaults and every accepted enum value.
func (s *Server) handleAvatarOptions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, avatarOptionsResponse{
		Defaults:  s.defaults,
		Qualities: []avatar.Quality{avatar.QualityLow, avatar.QualityMedium, avatar.QualityHigh},
		Emotions: []avatar.VoiceEmotion{
			avatar.EmotionExcited,
			avatar.EmotionSerious,
			avatar.EmotionFriendly,
			avatar.EmotionSoothing,
			avatar.EmotionBroadcaster,
		},
		Transports:    []avatar.VoiceChatTransport{avatar.TransportWebsocket, avatar.TransportLiveKit},
		STTProviders:  []avatar.STTProvider{avatar.STTDeepgram, avatar.STTGladia},
		Languages:     supportedLanguages,
		Greeting:      s.cfg.Greeting,
		GreetingDelay: s.cfg.GreetingDelay.Milliseconds(),
		PartialMode:   s.cfg.TranscriptPartialMode,
		InactivityTTL: s.sessions.InactivityTimeout().Milliseconds(),
	})
}
