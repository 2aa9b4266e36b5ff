package vod

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Provider identifies the streaming platform a VOD was captured from.
type Provider string

const (
	ProviderTwitch  Provider = "twitch"
	ProviderYouTube Provider = "youtube"
	ProviderKick    Provider = "kick"
)

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderTwitch, ProviderYouTube, ProviderKick:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// ProviderData is the provider-specific payload of a VOD. It is sealed: only
// TwitchData, YouTubeData and KickData implement it.
type ProviderData interface {
	Provider() Provider
	// StreamURL is the URL handed to the capture tool.
	StreamURL() string
	sealed()
}

// TwitchData identifies a Twitch broadcast.
type TwitchData struct {
	Login    string `json:"login"`
	UserID   string `json:"user_id,omitempty"`
	StreamID string `json:"stream_id,omitempty"`
}

func (TwitchData) Provider() Provider { return ProviderTwitch }

func (d TwitchData) StreamURL() string {
	return "https://www.twitch.tv/" + url.PathEscape(d.Login)
}

func (TwitchData) sealed() {}

// YouTubeData identifies a YouTube live stream. VideoID wins over the
// channel handle when both are known.
type YouTubeData struct {
	ChannelHandle string `json:"channel_handle,omitempty"`
	VideoID       string `json:"video_id,omitempty"`
}

func (YouTubeData) Provider() Provider { return ProviderYouTube }

func (d YouTubeData) StreamURL() string {
	if d.VideoID != "" {
		return "https://www.youtube.com/watch?v=" + url.QueryEscape(d.VideoID)
	}
	handle := d.ChannelHandle
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	return "https://www.youtube.com/" + url.PathEscape(handle) + "/live"
}

func (YouTubeData) sealed() {}

// KickData identifies a Kick broadcast.
type KickData struct {
	Slug         string `json:"slug"`
	LivestreamID string `json:"livestream_id,omitempty"`
}

func (KickData) Provider() Provider { return ProviderKick }

func (d KickData) StreamURL() string {
	return "https://kick.com/" + url.PathEscape(d.Slug)
}

func (KickData) sealed() {}

// Visitor handles every provider variant. Adding a provider adds a method
// here, so every implementation stops compiling until it handles it.
type Visitor[T any] interface {
	Twitch(TwitchData) T
	YouTube(YouTubeData) T
	Kick(KickData) T
}

// Cases adapts three functions to a Visitor.
type Cases[T any] struct {
	OnTwitch  func(TwitchData) T
	OnYouTube func(YouTubeData) T
	OnKick    func(KickData) T
}

func (c Cases[T]) Twitch(d TwitchData) T   { return c.OnTwitch(d) }
func (c Cases[T]) YouTube(d YouTubeData) T { return c.OnYouTube(d) }
func (c Cases[T]) Kick(d KickData) T       { return c.OnKick(d) }

// Switch dispatches data to the matching Visitor method.
func Switch[T any](data ProviderData, v Visitor[T]) T {
	switch d := data.(type) {
	case TwitchData:
		return v.Twitch(d)
	case *TwitchData:
		return v.Twitch(*d)
	case YouTubeData:
		return v.YouTube(d)
	case *YouTubeData:
		return v.YouTube(*d)
	case KickData:
		return v.Kick(d)
	case *KickData:
		return v.Kick(*d)
	}
	panic(fmt.Sprintf("vod: unhandled provider data %T", data))
}

// ValidateProviderData checks the identifying field of each variant.
func ValidateProviderData(data ProviderData) error {
	if data == nil {
		return fmt.Errorf("provider data is required")
	}
	return Switch[error](data, Cases[error]{
		OnTwitch: func(d TwitchData) error {
			if strings.TrimSpace(d.Login) == "" {
				return fmt.Errorf("twitch login is required")
			}
			return nil
		},
		OnYouTube: func(d YouTubeData) error {
			if strings.TrimSpace(d.VideoID) == "" && strings.TrimSpace(d.ChannelHandle) == "" {
				return fmt.Errorf("youtube video id or channel handle is required")
			}
			return nil
		},
		OnKick: func(d KickData) error {
			if strings.TrimSpace(d.Slug) == "" {
				return fmt.Errorf("kick slug is required")
			}
			return nil
		},
	})
}

func encodeProviderData(data ProviderData) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode %s provider data: %w", data.Provider(), err)
	}
	return string(raw), nil
}

// DecodeProviderData rebuilds the variant for provider from its JSON form.
func DecodeProviderData(provider Provider, raw []byte) (ProviderData, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var (
		data ProviderData
		err  error
	)
	switch provider {
	case ProviderTwitch:
		var d TwitchData
		err = json.Unmarshal(raw, &d)
		data = d
	case ProviderYouTube:
		var d YouTubeData
		err = json.Unmarshal(raw, &d)
		data = d
	case ProviderKick:
		var d KickData
		err = json.Unmarshal(raw, &d)
		data = d
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s provider data: %w", provider, err)
	}
	return data, nil
}
