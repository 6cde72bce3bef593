// Package discord adapts the Discord API to the directory and messaging
// ports and feeds gateway events into the core services.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/tiersync/tiersync/internal/core/domain"
)

// Intents needed to observe joins, role changes and command messages.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

// Discord error code returned when a bulk delete includes messages older
// than two weeks.
const codeBulkDeleteTooOld = 50034

// NewSession creates an unopened bot session with the required intents.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.StateEnabled = true
	return s, nil
}

// Pinger checks that the gateway connection is up.
type Pinger struct {
	s *discordgo.Session
}

func NewPinger(s *discordgo.Session) *Pinger {
	return &Pinger{s: s}
}

// Ping reports an error when the gateway has no live heartbeat.
func (p *Pinger) Ping(_ context.Context) error {
	if p.s.DataReady && p.s.HeartbeatLatency() > 0 {
		return nil
	}
	return errors.New("discord gateway not ready")
}

// mapError classifies a discordgo error into the domain error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
	}

	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownRole,
			discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %w", domain.ErrCapabilityDenied, err)
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", domain.ErrCapabilityDenied, err)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
}

func restCode(err error) int {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		return rest.Message.Code
	}
	return 0
}

func toMember(m *discordgo.Member) domain.Member {
	out := domain.Member{RoleIDs: append([]string(nil), m.Roles...)}
	if m.User != nil {
		out.ID = m.User.ID
		out.Username = m.User.Username
		out.Bot = m.User.Bot
	}
	return out
}

func toMessage(m *discordgo.Message) domain.Message {
	out := domain.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorBot = m.Author.Bot
	}
	for _, u := range m.Mentions {
		if u != nil {
			out.MentionIDs = append(out.MentionIDs, u.ID)
		}
	}
	return out
}
