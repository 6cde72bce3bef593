package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
)

// MemberEventSink accepts membership changes for asynchronous processing.
type MemberEventSink interface {
	Enqueue(ev domain.MemberEvent)
}

// Gateway turns gateway events into member events and verify commands.
// discordgo runs every handler on its own goroutine.
type Gateway struct {
	guildID string
	events  MemberEventSink
	verify  ports.VerifyService
	log     zerolog.Logger
}

func NewGateway(guildID string, events MemberEventSink, verify ports.VerifyService, log zerolog.Logger) *Gateway {
	return &Gateway{guildID: guildID, events: events, verify: verify, log: log}
}

// Register attaches the handlers to s and returns a func detaching them.
// ctx is the parent of every verify transaction.
func (g *Gateway) Register(ctx context.Context, s *discordgo.Session) func() {
	removers := []func(){
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.Ready) {
			g.log.Info().Str("user", e.User.Username).Int("guilds", len(e.Guilds)).Msg("gateway ready")
		}),
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
			g.onMember(domain.MemberJoined, e.Member)
		}),
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
			g.onMember(domain.MemberUpdated, e.Member)
		}),
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
			g.onMember(domain.MemberLeft, e.Member)
		}),
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
			g.onMessage(ctx, e.Message)
		}),
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func (g *Gateway) onMember(kind domain.MemberEventKind, m *discordgo.Member) {
	if m == nil || m.User == nil || m.GuildID != g.guildID {
		return
	}
	g.events.Enqueue(domain.MemberEvent{Kind: kind, Member: toMember(m)})
}

func (g *Gateway) onMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.GuildID != g.guildID {
		return
	}
	res, err := g.verify.Handle(ctx, toMessage(m))
	if res.Outcome == ports.VerifyIgnored {
		return
	}
	// Outcomes are reported by the service; this is only a trace.
	g.log.Debug().AnErr("error", err).
		Str("txn_id", res.TxnID).
		Str("outcome", string(res.Outcome)).
		Msg("verify command handled")
}
