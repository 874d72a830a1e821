package platform

import (
	"fmt"
	"strings"

	"github.com/edgard/polaris-bridge/internal/markup"
	"github.com/edgard/polaris-bridge/internal/model"
)

// Supported platform names.
const (
	WhatsApp = "whatsapp"
	Telegram = "telegram"
)

// Profile holds the per-platform conventions the pipelines depend on.
type Profile struct {
	Name    string
	Dialect markup.Dialect

	locate  func(id model.ID) string
	mention func(digits string) string
}

// Locator maps a canonical conversation id onto the platform chat address.
func (p Profile) Locator(id model.ID) string {
	if p.locate == nil {
		return id.String()
	}
	return p.locate(id)
}

// MentionTarget maps the digits of an @<digits> token onto a platform account address.
func (p Profile) MentionTarget(digits string) string {
	if p.mention == nil {
		return digits
	}
	return p.mention(digits)
}

// WhatsAppProfile addresses groups as <id>@g.us and accounts as <id>@c.us.
func WhatsAppProfile() Profile {
	return Profile{
		Name:    WhatsApp,
		Dialect: markup.Markdown,
		locate: func(id model.ID) string {
			s := id.String()
			if strings.Contains(s, "@") {
				return s
			}
			if strings.HasPrefix(s, model.GroupMarker) {
				return strings.TrimPrefix(s, model.GroupMarker) + "@g.us"
			}
			return s + "@c.us"
		},
		mention: func(digits string) string {
			return digits + "@c.us"
		},
	}
}

// TelegramProfile uses chat ids as they are; group chat ids are already negative.
func TelegramProfile() Profile {
	return Profile{
		Name:    Telegram,
		Dialect: markup.HTML,
	}
}

// ProfileFor returns the profile registered under name.
func ProfileFor(name string) (Profile, error) {
	switch strings.ToLower(name) {
	case WhatsApp:
		return WhatsAppProfile(), nil
	case Telegram:
		return TelegramProfile(), nil
	}
	return Profile{}, fmt.Errorf("unknown platform %q", name)
}
