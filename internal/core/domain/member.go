package domain

import "time"

// Member is a guild member as observed through the directory. RoleIDs never
// contains the implicit default role every member holds.
type Member struct {
	ID       string
	Username string
	RoleIDs  []string
	Bot      bool
}

// HasRole reports whether the member currently holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the member holds at least one of roleIDs.
func (m Member) HasAnyRole(roleIDs []string) bool {
	for _, id := range roleIDs {
		if m.HasRole(id) {
			return true
		}
	}
	return false
}

// HasOnlyDefaultRoles reports whether the member holds nothing beyond the
// implicit default role.
func (m Member) HasOnlyDefaultRoles() bool {
	return len(m.RoleIDs) == 0
}

// Tier derives the access tier the member currently sits in.
func (m Member) Tier(roles PolicyRoles) Tier {
	switch {
	case m.HasRole(roles.Member) && m.HasAnyRole(roles.Entitlements):
		return TierPaid
	case m.HasRole(roles.Member):
		return TierVerified
	case m.HasRole(roles.Unverified):
		return TierPending
	default:
		return TierUnassigned
	}
}

// Role is a directory role. Position establishes the total order used by
// the hierarchy check; Name is only used in log text.
type Role struct {
	ID       string
	Name     string
	Position int
}

// Message is a channel message as returned by the messaging service.
type Message struct {
	ID         string
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorBot  bool
	Content    string
	MentionIDs []string
	Timestamp  time.Time
}

// Mentions reports whether the message mentions userID.
func (m Message) Mentions(userID string) bool {
	for _, id := range m.MentionIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MemberEventKind identifies what happened to a member.
type MemberEventKind string

const (
	MemberJoined  MemberEventKind = "joined"
	MemberUpdated MemberEventKind = "updated"
	MemberLeft    MemberEventKind = "left"
)

// MemberEvent is a membership change pushed by the platform.
type MemberEvent struct {
	Kind   MemberEventKind
	Member Member
}
