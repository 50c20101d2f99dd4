package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ent0n29/parlor/internal/avatar"
)

// LoadStartDefaults returns the session parameters used when a client does
// not override them. Values from the optional YAML file at path win over the
// built-in defaults; AVATAR_* environment variables win over both.
func LoadStartDefaults(path string) (avatar.StartRequest, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AVATAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := avatar.DefaultStartRequest()
	v.SetDefault("quality", string(base.Quality))
	v.SetDefault("avatar_name", base.AvatarName)
	v.SetDefault("knowledge_id", base.KnowledgeID)
	v.SetDefault("knowledge_base", base.KnowledgeBase)
	v.SetDefault("voice.voice_id", base.Voice.VoiceID)
	v.SetDefault("voice.rate", base.Voice.Rate)
	v.SetDefault("voice.emotion", string(base.Voice.Emotion))
	v.SetDefault("voice.model", base.Voice.Model)
	v.SetDefault("language", base.Language)
	v.SetDefault("voice_chat_transport", string(base.VoiceChatTransport))
	v.SetDefault("stt_settings.provider", string(base.STTSettings.Provider))
	v.SetDefault("stt_settings.confidence", base.STTSettings.Confidence)
	v.SetDefault("disable_idle_timeout", base.DisableIdleTimeout)
	v.SetDefault("activity_idle_timeout", base.ActivityIdleTimeout)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return avatar.StartRequest{}, fmt.Errorf("read avatar defaults %s: %w", path, err)
		}
	}

	var req avatar.StartRequest
	if err := v.Unmarshal(&req); err != nil {
		return avatar.StartRequest{}, fmt.Errorf("parse avatar defaults: %w", err)
	}
	if err := req.Validate(); err != nil {
		return avatar.StartRequest{}, fmt.Errorf("avatar defaults: %w", err)
	}
	return req, nil
}
