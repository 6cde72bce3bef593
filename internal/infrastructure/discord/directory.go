package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/tiersync/tiersync/internal/core/domain"
)

const memberPageSize = 1000

// Directory implements ports.Directory for one guild.
type Directory struct {
	s       *discordgo.Session
	guildID string
}

func NewDirectory(s *discordgo.Session, guildID string) *Directory {
	return &Directory{s: s, guildID: guildID}
}

func (d *Directory) GetMember(ctx context.Context, memberID string) (domain.Member, error) {
	m, err := d.s.GuildMember(d.guildID, memberID, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Member{}, fmt.Errorf("get member %s: %w", memberID, mapError(err))
	}
	return toMember(m), nil
}

func (d *Directory) GetRole(ctx context.Context, roleID string) (domain.Role, error) {
	roles, err := d.s.GuildRoles(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Role{}, fmt.Errorf("get role %s: %w", roleID, mapError(err))
	}
	for _, r := range roles {
		if r.ID == roleID {
			return domain.Role{ID: r.ID, Name: r.Name, Position: r.Position}, nil
		}
	}
	return domain.Role{}, fmt.Errorf("get role %s: %w", roleID, domain.ErrNotFound)
}

// ListMembers pages through the member list. Without forceRefresh the
// gateway state cache is used when it has been populated.
func (d *Directory) ListMembers(ctx context.Context, forceRefresh bool) ([]domain.Member, error) {
	if !forceRefresh {
		if g, err := d.s.State.Guild(d.guildID); err == nil && len(g.Members) > 0 {
			out := make([]domain.Member, 0, len(g.Members))
			for _, m := range g.Members {
				out = append(out, toMember(m))
			}
			return out, nil
		}
	}

	var out []domain.Member
	after := ""
	for {
		page, err := d.s.GuildMembers(d.guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list members: %w", mapError(err))
		}
		for _, m := range page {
			out = append(out, toMember(m))
		}
		if len(page) < memberPageSize || page[len(page)-1].User == nil {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (d *Directory) AddRole(ctx context.Context, memberID, roleID string) error {
	if err := d.s.GuildMemberRoleAdd(d.guildID, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	return nil
}

func (d *Directory) RemoveRole(ctx context.Context, memberID, roleID string) error {
	if err := d.s.GuildMemberRoleRemove(d.guildID, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	return nil
}

// HasCapability evaluates the bot's permissions afresh on every call.
func (d *Directory) HasCapability(ctx context.Context, c domain.Capability, channelID string) (bool, error) {
	switch c {
	case domain.CapManageRoles:
		perms, err := d.guildPermissions(ctx)
		if err != nil {
			return false, err
		}
		return hasPermission(perms, discordgo.PermissionManageRoles), nil
	case domain.CapManageMessages, domain.CapReadHistory:
		perms, err := d.s.UserChannelPermissions(d.selfID(), channelID)
		if err != nil {
			return false, fmt.Errorf("channel permissions: %w", mapError(err))
		}
		bit := int64(discordgo.PermissionManageMessages)
		if c == domain.CapReadHistory {
			bit = discordgo.PermissionReadMessageHistory
		}
		return hasPermission(perms, bit), nil
	default:
		return false, fmt.Errorf("unknown capability %q", c)
	}
}

// HighestManagedRank is the highest position among the bot's own roles.
func (d *Directory) HighestManagedRank(ctx context.Context) (int, error) {
	self, roles, err := d.selfAndRoles(ctx)
	if err != nil {
		return 0, err
	}
	return highestPosition(self.Roles, roles), nil
}

func (d *Directory) guildPermissions(ctx context.Context) (int64, error) {
	self, roles, err := d.selfAndRoles(ctx)
	if err != nil {
		return 0, err
	}
	return guildPermissions(d.guildID, self.Roles, roles), nil
}

func (d *Directory) selfAndRoles(ctx context.Context) (*discordgo.Member, []*discordgo.Role, error) {
	self, err := d.s.GuildMember(d.guildID, d.selfID(), discordgo.WithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("self member: %w", mapError(err))
	}
	roles, err := d.s.GuildRoles(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("guild roles: %w", mapError(err))
	}
	return self, roles, nil
}

func (d *Directory) selfID() string {
	if d.s.State == nil || d.s.State.User == nil {
		return ""
	}
	return d.s.State.User.ID
}

// guildPermissions ORs the permissions of @everyone (whose id equals the
// guild id) and every role the member holds.
func guildPermissions(guildID string, memberRoles []string, roles []*discordgo.Role) int64 {
	held := make(map[string]struct{}, len(memberRoles)+1)
	held[guildID] = struct{}{}
	for _, id := range memberRoles {
		held[id] = struct{}{}
	}
	var perms int64
	for _, r := range roles {
		if _, ok := held[r.ID]; ok {
			perms |= r.Permissions
		}
	}
	return perms
}

func hasPermission(perms, bit int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&bit == bit
}

func highestPosition(memberRoles []string, roles []*discordgo.Role) int {
	held := make(map[string]struct{}, len(memberRoles))
	for _, id := range memberRoles {
		held[id] = struct{}{}
	}
	highest := 0
	for _, r := range roles {
		if _, ok := held[r.ID]; ok && r.Position > highest {
			highest = r.Position
		}
	}
	return highest
}
