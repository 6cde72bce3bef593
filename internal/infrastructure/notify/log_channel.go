// Package notify delivers operational outcomes to the community's log
// channel and, optionally, to the audit store.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
	"github.com/tiersync/tiersync/internal/metrics"
)

const postTimeout = 10 * time.Second

// LogChannel implements ports.AuditLog. Every Record spawns a delivery task;
// delivery errors are logged locally and never reach the caller.
type LogChannel struct {
	msg       ports.Messenger
	channelID string
	repo      ports.AuditRepository
	log       zerolog.Logger
	wg        sync.WaitGroup
}

// NewLogChannel creates a LogChannel posting to channelID. repo may be nil.
func NewLogChannel(msg ports.Messenger, channelID string, repo ports.AuditRepository, log zerolog.Logger) *LogChannel {
	return &LogChannel{
		msg:       msg,
		channelID: channelID,
		repo:      repo,
		log:       log,
	}
}

// Record queues o for delivery and returns immediately.
func (l *LogChannel) Record(ctx context.Context, o domain.Outcome) {
	detached := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(detached, postTimeout)
		defer cancel()
		l.deliver(ctx, o)
	}()
}

// Wait blocks until all queued deliveries have finished.
func (l *LogChannel) Wait() {
	l.wg.Wait()
}

func (l *LogChannel) deliver(ctx context.Context, o domain.Outcome) {
	if _, err := l.msg.SendMessage(ctx, l.channelID, FormatLine(o)); err != nil {
		metrics.LogChannelPostsTotal.WithLabelValues("error").Inc()
		l.log.Warn().Err(err).Str("op", o.Operation).Str("kind", o.Kind).Msg("failed to post to log channel")
	} else {
		metrics.LogChannelPostsTotal.WithLabelValues("ok").Inc()
	}

	if l.repo == nil {
		return
	}
	if err := l.repo.InsertOutcome(ctx, o); err != nil {
		l.log.Warn().Err(err).Str("op", o.Operation).Msg("failed to persist outcome")
	}
}

// FormatLine renders o as a single timestamped log-channel line.
func FormatLine(o domain.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "`%s` **%s** %s", o.Time.UTC().Format(time.RFC3339), strings.ToUpper(o.Kind), o.Operation)
	if o.MemberID != "" {
		fmt.Fprintf(&b, " <@%s>", o.MemberID)
	}
	if o.Detail != "" {
		b.WriteString(": ")
		b.WriteString(strings.ReplaceAll(o.Detail, "\n", " "))
	}
	return b.String()
}
