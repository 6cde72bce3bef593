package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
	"github.com/tiersync/tiersync/internal/metrics"
)

const (
	defaultHistoryLimit = 100
	deleteTimeout       = 10 * time.Second
)

const (
	opVerify         = "verify"
	opVerifyCleanup  = "verify_cleanup"
	opConfirmCleanup = "confirmation_cleanup"
)

// VerifyConfig is the static configuration of the verify command.
type VerifyConfig struct {
	GuildID string
	Channel string
	Keyword string
	Roles   domain.PolicyRoles
	// ConfirmationDelay is how long the confirmation stays visible.
	ConfirmationDelay time.Duration
	HistoryLimit      int
}

type verifyService struct {
	dir     ports.Directory
	msg     ports.Messenger
	prompts ports.PromptStore
	guard   roleGuard
	rep     reporter
	cfg     VerifyConfig
	log     zerolog.Logger

	after   func(time.Duration) <-chan time.Time
	pending sync.WaitGroup
}

// NewVerifyService returns a VerifyService implementation.
func NewVerifyService(
	dir ports.Directory,
	msg ports.Messenger,
	prompts ports.PromptStore,
	audit ports.AuditLog,
	cfg VerifyConfig,
	log zerolog.Logger,
) ports.VerifyService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &verifyService{
		dir:     dir,
		msg:     msg,
		prompts: prompts,
		guard:   roleGuard{dir: dir},
		rep:     reporter{audit: audit, log: log, now: time.Now},
		cfg:     cfg,
		log:     log,
		after:   time.After,
	}
}

// Handle runs one verify command to a terminal state. Messages that are not
// a verify command are ignored without side effects.
func (s *verifyService) Handle(ctx context.Context, msg domain.Message) (ports.VerifyResult, error) {
	if !s.isVerifyCommand(msg) {
		return ports.VerifyResult{Outcome: ports.VerifyIgnored}, nil
	}

	res := ports.VerifyResult{TxnID: uuid.NewString()}
	memberID := msg.AuthorID
	log := s.log.With().Str("txn_id", res.TxnID).Str("member_id", memberID).Logger()
	unverified, memberRole := s.cfg.Roles.Unverified, s.cfg.Roles.Member

	ok, err := s.dir.HasCapability(ctx, domain.CapManageRoles, "")
	if err == nil && !ok {
		err = fmt.Errorf("%w: missing manage roles", domain.ErrCapabilityDenied)
	}
	if err != nil {
		return s.abort(ctx, res, memberID, err)
	}

	member, err := s.dir.GetMember(ctx, memberID)
	if err != nil {
		return s.abort(ctx, res, memberID, fmt.Errorf("fetch member: %w", err))
	}

	if !member.HasRole(unverified) {
		res.Outcome = ports.VerifyNotNeeded
		reply, err := s.msg.SendMessage(ctx, s.cfg.Channel, notNeededReply(memberID))
		if err != nil {
			log.Warn().Err(err).Msg("failed to send not-needed reply")
		}
		s.cleanupLight(ctx, log, msg, reply)
		s.evictPrompt(ctx, log, memberID)
		metrics.VerificationsTotal.WithLabelValues(string(res.Outcome)).Inc()
		log.Info().Msg("verification not needed")
		return res, nil
	}

	if err := s.guard.check(ctx, unverified, memberRole); err != nil {
		return s.abort(ctx, res, memberID, err)
	}

	// Both mutations must land before any confirmation goes out. Member is
	// added first: the role update emitted between the two calls must never
	// show an empty role set, or the pending pass would hand unverified back.
	// A failed remove leaves both roles, which the pending pass strips.
	if err := s.guard.add(ctx, memberID, memberRole); err != nil {
		return s.abort(ctx, res, memberID, err)
	}
	if err := s.guard.remove(ctx, memberID, unverified); err != nil {
		return s.abort(ctx, res, memberID, err)
	}

	res.Outcome = ports.VerifySucceeded
	metrics.VerificationsTotal.WithLabelValues(string(res.Outcome)).Inc()
	s.rep.report(ctx, opVerify, memberID, nil, "verified "+displayName(member))

	reply, err := s.msg.SendMessage(ctx, s.cfg.Channel, verifiedReply(memberID))
	if err != nil {
		log.Warn().Err(err).Msg("failed to send confirmation")
	}

	if cerr := s.cleanupFull(ctx, log, msg, reply); cerr != nil {
		res.CleanupErr = cerr
		s.rep.report(ctx, opVerifyCleanup, memberID, cerr, "verification cleanup incomplete")
	}
	s.evictPrompt(ctx, log, memberID)
	return res, nil
}

// Wait blocks until every delayed confirmation deletion has run.
func (s *verifyService) Wait() {
	s.pending.Wait()
}

func (s *verifyService) isVerifyCommand(msg domain.Message) bool {
	return !msg.AuthorBot &&
		msg.GuildID == s.cfg.GuildID &&
		msg.ChannelID == s.cfg.Channel &&
		strings.EqualFold(strings.TrimSpace(msg.Content), s.cfg.Keyword)
}

// abort ends the transaction in the failed state. The member only ever sees
// the generic failure reply.
func (s *verifyService) abort(ctx context.Context, res ports.VerifyResult, memberID string, err error) (ports.VerifyResult, error) {
	res.Outcome = ports.VerifyFailed
	metrics.VerificationsTotal.WithLabelValues(string(res.Outcome)).Inc()
	s.rep.report(ctx, opVerify, memberID, err, "verification aborted")

	if _, sendErr := s.msg.SendMessage(ctx, s.cfg.Channel, failureReply(memberID)); sendErr != nil {
		s.log.Warn().Err(sendErr).Str("member_id", memberID).Msg("failed to send failure reply")
	}
	return res, fmt.Errorf("verify %s: %w", memberID, err)
}

// cleanupLight removes the command message and, after the grace delay, the
// reply. Failures are only logged.
func (s *verifyService) cleanupLight(ctx context.Context, log zerolog.Logger, trigger domain.Message, reply domain.Message) {
	canDelete, err := s.guard.channelCapability(ctx, domain.CapManageMessages, s.cfg.Channel)
	if err != nil || !canDelete {
		log.Info().AnErr("lookup_error", err).Msg("cannot manage messages; skipping cleanup")
		return
	}
	if err := s.deleteOne(ctx, trigger.ID); err != nil {
		metrics.CleanupFailuresTotal.WithLabelValues(domain.Classify(err)).Inc()
		log.Warn().Err(err).Msg("failed to delete verify command")
	}
	s.deleteLater(ctx, trigger.AuthorID, reply.ID)
}

// cleanupFull deletes, in order: the welcome prompt, every message the member
// has in the channel right now, and the confirmation after the grace delay.
// Cleanup is opportunistic; the role swap is never rolled back.
func (s *verifyService) cleanupFull(ctx context.Context, log zerolog.Logger, trigger domain.Message, reply domain.Message) error {
	canDelete, err := s.guard.channelCapability(ctx, domain.CapManageMessages, s.cfg.Channel)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPartialCleanup, err)
	}
	if !canDelete {
		log.Info().Msg("cannot manage messages; skipping cleanup")
		return nil
	}

	canRead, err := s.guard.channelCapability(ctx, domain.CapReadHistory, s.cfg.Channel)
	if err != nil {
		log.Warn().Err(err).Msg("history capability lookup failed; treating as absent")
		canRead = false
	}

	var errs []error
	if err := s.deletePrompt(ctx, log, trigger.AuthorID, canRead); err != nil {
		errs = append(errs, err)
	}
	if err := s.deleteMemberMessages(ctx, log, trigger, reply.ID, canRead); err != nil {
		errs = append(errs, err)
	}
	s.deleteLater(ctx, trigger.AuthorID, reply.ID)

	if len(errs) > 0 {
		for _, err := range errs {
			metrics.CleanupFailuresTotal.WithLabelValues(domain.Classify(err)).Inc()
		}
		return fmt.Errorf("%w: %w", domain.ErrPartialCleanup, errors.Join(errs...))
	}
	return nil
}

func (s *verifyService) deletePrompt(ctx context.Context, log zerolog.Logger, memberID string, canRead bool) error {
	promptID, ok, err := s.prompts.Get(ctx, memberID)
	if err != nil {
		log.Warn().Err(err).Msg("prompt record lookup failed")
		ok = false
	}
	if !ok {
		if !canRead {
			log.Info().Msg("no prompt record and no history access; skipping prompt discovery")
			return nil
		}
		promptID, ok, err = s.discoverPrompt(ctx, memberID)
		if err != nil {
			return fmt.Errorf("discover prompt: %w", err)
		}
		if !ok {
			log.Debug().Msg("no prompt found in recent history")
			return nil
		}
	}

	if err := s.deleteOne(ctx, promptID); err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	return nil
}

// discoverPrompt scans recent history for a prompt we posted that mentions
// the member. Only used when no prompt record exists, e.g. after a restart
// with the in-memory store.
func (s *verifyService) discoverPrompt(ctx context.Context, memberID string) (string, bool, error) {
	recent, err := s.msg.FetchRecent(ctx, s.cfg.Channel, s.cfg.HistoryLimit, true)
	if err != nil {
		return "", false, err
	}
	self := s.msg.SelfID()
	keyword := strings.ToLower(s.cfg.Keyword)
	for _, m := range recent {
		if m.AuthorID == self && m.Mentions(memberID) && strings.Contains(strings.ToLower(m.Content), keyword) {
			return m.ID, true, nil
		}
	}
	return "", false, nil
}

// deleteMemberMessages removes the member's own messages, re-fetched now so
// anything posted since the command is caught too.
func (s *verifyService) deleteMemberMessages(ctx context.Context, log zerolog.Logger, trigger domain.Message, replyID string, canRead bool) error {
	ids := []string{trigger.ID}
	var fetchErr error
	if canRead {
		recent, err := s.msg.FetchRecent(ctx, s.cfg.Channel, s.cfg.HistoryLimit, true)
		if err != nil {
			fetchErr = fmt.Errorf("fetch member messages: %w", err)
		} else {
			ids = collectAuthored(recent, trigger.AuthorID, trigger.ID, replyID)
		}
	} else {
		log.Info().Msg("no history access; deleting the command message only")
	}

	return errors.Join(fetchErr, s.deleteAll(ctx, log, ids))
}

// collectAuthored returns the ids of authorID's messages, always including
// mustInclude and never exclude.
func collectAuthored(msgs []domain.Message, authorID, mustInclude, exclude string) []string {
	ids := make([]string, 0, len(msgs))
	seen := false
	for _, m := range msgs {
		if m.AuthorID != authorID || m.ID == exclude {
			continue
		}
		if m.ID == mustInclude {
			seen = true
		}
		ids = append(ids, m.ID)
	}
	if !seen {
		ids = append(ids, mustInclude)
	}
	return ids
}

// deleteAll removes ids, in bulk when there is more than one. Messages the
// bulk endpoint refuses as too old are retried one by one.
func (s *verifyService) deleteAll(ctx context.Context, log zerolog.Logger, ids []string) error {
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return s.deleteOne(ctx, ids[0])
	}

	err := s.msg.BulkDelete(ctx, s.cfg.Channel, ids)
	var tooOld *domain.BulkDeleteError
	if !errors.As(err, &tooOld) {
		if err != nil {
			return fmt.Errorf("bulk delete: %w", err)
		}
		return nil
	}

	log.Warn().Err(err).Str("kind", domain.KindMessageTooOld).Msg("bulk delete refused old messages; deleting individually")
	metrics.CleanupFailuresTotal.WithLabelValues(domain.KindMessageTooOld).Add(float64(len(tooOld.TooOld)))

	var errs []error
	for _, id := range tooOld.TooOld {
		if err := s.deleteOne(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", tooOld, errors.Join(errs...))
	}
	return nil
}

// deleteOne treats an already-deleted message as success.
func (s *verifyService) deleteOne(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	if err := s.msg.DeleteMessage(ctx, s.cfg.Channel, messageID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// deleteLater removes a reply after the grace delay. It runs detached from
// the request; failures are reported but never reach the member.
func (s *verifyService) deleteLater(ctx context.Context, memberID, messageID string) {
	if messageID == "" {
		return
	}
	detached := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		<-s.after(s.cfg.ConfirmationDelay)

		dctx, cancel := context.WithTimeout(detached, deleteTimeout)
		defer cancel()
		if err := s.deleteOne(dctx, messageID); err != nil {
			metrics.CleanupFailuresTotal.WithLabelValues(domain.Classify(err)).Inc()
			s.rep.report(dctx, opConfirmCleanup, memberID, err, "failed to delete confirmation")
		}
	}()
}

func (s *verifyService) evictPrompt(ctx context.Context, log zerolog.Logger, memberID string) {
	if err := s.prompts.Delete(ctx, memberID); err != nil {
		log.Warn().Err(err).Msg("failed to evict prompt record")
	}
}
