package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tiersync/tiersync/internal/core/domain"
)

const (
	maxFetchLimit = 100
	maxBulkDelete = 100
	// Discord refuses bulk deletion of messages older than two weeks; keep a
	// margin so a message does not age out between check and call.
	bulkDeleteMaxAge = 14*24*time.Hour - time.Hour
)

// Messenger implements ports.Messenger.
type Messenger struct {
	s   *discordgo.Session
	now func() time.Time
}

func NewMessenger(s *discordgo.Session) *Messenger {
	return &Messenger{s: s, now: time.Now}
}

func (m *Messenger) SelfID() string {
	if m.s.State == nil || m.s.State.User == nil {
		return ""
	}
	return m.s.State.User.ID
}

// FetchRecent returns the newest messages first. Without bypassCache the
// gateway message cache is used when it holds anything for the channel.
func (m *Messenger) FetchRecent(ctx context.Context, channelID string, limit int, bypassCache bool) ([]domain.Message, error) {
	if limit <= 0 || limit > maxFetchLimit {
		limit = maxFetchLimit
	}

	if !bypassCache {
		if ch, err := m.s.State.Channel(channelID); err == nil && len(ch.Messages) > 0 {
			out := make([]domain.Message, 0, limit)
			// State keeps messages oldest first.
			for i := len(ch.Messages) - 1; i >= 0 && len(out) < limit; i-- {
				out = append(out, toMessage(ch.Messages[i]))
			}
			return out, nil
		}
	}

	msgs, err := m.s.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", mapError(err))
	}
	out := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toMessage(msg))
	}
	return out, nil
}

func (m *Messenger) SendMessage(ctx context.Context, channelID, content string) (domain.Message, error) {
	msg, err := m.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", mapError(err))
	}
	return toMessage(msg), nil
}

func (m *Messenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := m.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message: %w", mapError(err))
	}
	return nil
}

// BulkDelete deletes the messages young enough for the bulk endpoint and
// reports the rest through a *domain.BulkDeleteError.
func (m *Messenger) BulkDelete(ctx context.Context, channelID string, messageIDs []string) error {
	fresh, tooOld := partitionByAge(messageIDs, m.now().Add(-bulkDeleteMaxAge))

	for len(fresh) > 0 {
		n := min(len(fresh), maxBulkDelete)
		batch := fresh[:n]
		fresh = fresh[n:]

		var err error
		if len(batch) == 1 {
			err = m.s.ChannelMessageDelete(channelID, batch[0], discordgo.WithContext(ctx))
		} else {
			err = m.s.ChannelMessagesBulkDelete(channelID, batch, discordgo.WithContext(ctx))
		}
		if err != nil {
			if restCode(err) == codeBulkDeleteTooOld {
				tooOld = append(tooOld, batch...)
				continue
			}
			return fmt.Errorf("bulk delete: %w", mapError(err))
		}
	}

	if len(tooOld) > 0 {
		return &domain.BulkDeleteError{TooOld: tooOld}
	}
	return nil
}

// partitionByAge splits ids at cutoff using the timestamp embedded in each
// snowflake. Unparseable ids are treated as too old.
func partitionByAge(ids []string, cutoff time.Time) (fresh, tooOld []string) {
	for _, id := range ids {
		ts, err := discordgo.SnowflakeTimestamp(id)
		if err != nil || ts.Before(cutoff) {
			tooOld = append(tooOld, id)
			continue
		}
		fresh = append(fresh, id)
	}
	return fresh, tooOld
}
