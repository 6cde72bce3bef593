package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
)

// reporter writes an outcome to the local log and the audit sink in one go.
type reporter struct {
	audit ports.AuditLog
	log   zerolog.Logger
	now   func() time.Time
}

func (r reporter) report(ctx context.Context, op, memberID string, err error, detail string) string {
	kind := domain.Classify(err)

	var ev *zerolog.Event
	switch kind {
	case domain.KindSuccess:
		ev = r.log.Info()
	case domain.KindTransientIO:
		ev = r.log.Error().Err(err)
	default:
		ev = r.log.Warn().Err(err)
	}
	ev.Str("op", op).Str("member_id", memberID).Str("kind", kind).Msg(detail)

	if err != nil {
		detail = detail + ": " + err.Error()
	}
	r.audit.Record(ctx, domain.Outcome{
		Time:      r.now().UTC(),
		Kind:      kind,
		Operation: op,
		MemberID:  memberID,
		Detail:    detail,
	})
	return kind
}
