package domain

// Tier is the access state a member is in.
type Tier string

const (
	TierUnassigned Tier = "unassigned"
	TierPending    Tier = "pending"
	TierVerified   Tier = "verified"
	TierPaid       Tier = "paid"
)

// PolicyRoles names the roles the access policy cares about. Any other role
// is ignored.
type PolicyRoles struct {
	Unverified   string
	Member       string
	Entitlements []string
}

// Capability is a permission the acting identity may or may not hold.
type Capability string

const (
	CapManageRoles    Capability = "manage_roles"
	CapManageMessages Capability = "manage_messages"
	CapReadHistory    Capability = "read_history"
)

// Action describes a single role mutation applied by the engine.
type Action struct {
	MemberID string `json:"member_id"`
	RoleID   string `json:"role_id"`
	Op       string `json:"op"`
}

const (
	OpAdd    = "add"
	OpRemove = "remove"
)
