package sys

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// V2 Components
// ============================================================================

const (
	ComponentTypeSection     discord.ComponentType = 9
	ComponentTypeTextDisplay discord.ComponentType = 10
	ComponentTypeThumbnail   discord.ComponentType = 11
	ComponentTypeSeparator   discord.ComponentType = 14
	ComponentTypeContainer   discord.ComponentType = 17

	MessageFlagsIsComponentsV2 discord.MessageFlags = 1 << 15
)

type UnfurledMediaItem struct {
	URL string `json:"url"`
}

type Thumbnail struct {
	CType discord.ComponentType `json:"type"`
	Media UnfurledMediaItem     `json:"media"`
}

type Separator struct {
	CType   discord.ComponentType `json:"type"`
	Divider bool                  `json:"divider,omitempty"`
}

type TextDisplay struct {
	CType   discord.ComponentType `json:"type"`
	Content string                `json:"content"`
}

type Section struct {
	CType      discord.ComponentType `json:"type"`
	Components []any                 `json:"components"`
	Accessory  any                   `json:"accessory,omitempty"`
}

type Container struct {
	CType       discord.ComponentType `json:"type"`
	AccentColor *int                  `json:"accent_color,omitempty"`
	Components  []any                 `json:"components"`
}

func NewV2Container(components ...any) Container {
	return Container{
		CType:      ComponentTypeContainer,
		Components: components,
	}
}

// WithAccent returns a copy of the container with its side stripe colored.
func (c Container) WithAccent(color int) Container {
	c.AccentColor = &color
	return c
}

func NewTextDisplay(content string) TextDisplay {
	return TextDisplay{
		CType:   ComponentTypeTextDisplay,
		Content: content,
	}
}

func NewThumbnail(url string) Thumbnail {
	return Thumbnail{
		CType: ComponentTypeThumbnail,
		Media: UnfurledMediaItem{URL: url},
	}
}

func NewSeparator(divider bool) Separator {
	return Separator{
		CType:   ComponentTypeSeparator,
		Divider: divider,
	}
}

func NewSection(content string, accessory any) Section {
	return Section{
		CType:      ComponentTypeSection,
		Components: []any{NewTextDisplay(content)},
		Accessory:  accessory,
	}
}

// ============================================================================
// Raw REST helpers
// ============================================================================

func SendContainerV2(client *bot.Client, channelID snowflake.ID, container Container) (*discord.Message, error) {
	route := rest.NewEndpoint(http.MethodPost, "/channels/{channel.id}/messages")

	data := struct {
		Components []any                `json:"components"`
		Flags      discord.MessageFlags `json:"flags"`
	}{
		Components: []any{container},
		Flags:      MessageFlagsIsComponentsV2,
	}

	var msg discord.Message
	if err := doRequestNoEscape(client, route.Compile(nil, channelID.String()), data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func EditContainerV2(client *bot.Client, channelID, messageID snowflake.ID, container Container) (*discord.Message, error) {
	route := rest.NewEndpoint(http.MethodPatch, "/channels/{channel.id}/messages/{message.id}")

	data := struct {
		Components []any                `json:"components"`
		Flags      discord.MessageFlags `json:"flags"`
	}{
		Components: []any{container},
		Flags:      MessageFlagsIsComponentsV2,
	}

	var msg discord.Message
	if err := doRequestNoEscape(client, route.Compile(nil, channelID.String(), messageID.String()), data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditInteractionContainerV2 replaces the deferred response of an interaction.
func EditInteractionContainerV2(client *bot.Client, token string, container Container) error {
	route := rest.NewEndpoint(http.MethodPatch, "/webhooks/{application.id}/{interaction.token}/messages/@original")

	data := struct {
		Components []any                `json:"components"`
		Flags      discord.MessageFlags `json:"flags"`
	}{
		Components: []any{container},
		Flags:      MessageFlagsIsComponentsV2,
	}

	return doRequestNoEscape(client, route.Compile(nil, client.ApplicationID.String(), token), data, nil)
}

// SetVoiceStatus sets the status line shown under a voice channel; empty clears it.
func SetVoiceStatus(client *bot.Client, channelID snowflake.ID, status string) error {
	route := rest.NewEndpoint(http.MethodPut, "/channels/{channel.id}/voice-status")
	return client.Rest.Do(route.Compile(nil, channelID.String()), map[string]string{"status": status}, nil)
}

func doRequestNoEscape(client *bot.Client, route *rest.CompiledEndpoint, body any, dst any) error {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return err
	}
	return client.Rest.Do(route, json.RawMessage(buf.Bytes()), dst)
}
