package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tiersync/tiersync/internal/core/domain"
)

// ---------------------------------------------------------------------------
// Shared fixture ids
// ---------------------------------------------------------------------------

const (
	testGuild      = "100"
	roleUnverified = "201"
	roleMember     = "202"
	roleEntitled   = "401"
	verifyChannel  = "301"
	botUser        = "900"
)

func testRoles() domain.PolicyRoles {
	return domain.PolicyRoles{Unverified: roleUnverified, Member: roleMember, Entitlements: []string{roleEntitled, "402"}}
}

// ---------------------------------------------------------------------------
// Directory stub: an in-memory guild.
// ---------------------------------------------------------------------------

type stubDirectory struct {
	mu         sync.Mutex
	members    map[string]*domain.Member
	roles      map[string]domain.Role
	highest    int
	caps       map[domain.Capability]bool
	listErr    error
	addErr     map[string]error // by member id
	removeErr  map[string]error // by member id
	listForced []bool
	mutations  []string // "add:<member>:<role>" / "remove:<member>:<role>"
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		members: map[string]*domain.Member{},
		roles: map[string]domain.Role{
			roleUnverified: {ID: roleUnverified, Name: "unverified", Position: 1},
			roleMember:     {ID: roleMember, Name: "member", Position: 2},
			roleEntitled:   {ID: roleEntitled, Name: "supporter", Position: 3},
		},
		highest: 10,
		caps: map[domain.Capability]bool{
			domain.CapManageRoles:    true,
			domain.CapManageMessages: true,
			domain.CapReadHistory:    true,
		},
		addErr:    map[string]error{},
		removeErr: map[string]error{},
	}
}

func (d *stubDirectory) put(m domain.Member) domain.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := m
	clone.RoleIDs = append([]string(nil), m.RoleIDs...)
	d.members[m.ID] = &clone
	return m
}

func (d *stubDirectory) member(id string) domain.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := *d.members[id]
	m.RoleIDs = append([]string(nil), m.RoleIDs...)
	return m
}

func (d *stubDirectory) mutationLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.mutations...)
}

func (d *stubDirectory) GetMember(_ context.Context, id string) (domain.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[id]
	if !ok {
		return domain.Member{}, domain.ErrNotFound
	}
	out := *m
	out.RoleIDs = append([]string(nil), m.RoleIDs...)
	return out, nil
}

func (d *stubDirectory) GetRole(_ context.Context, id string) (domain.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.roles[id]
	if !ok {
		return domain.Role{}, domain.ErrNotFound
	}
	return r, nil
}

func (d *stubDirectory) ListMembers(_ context.Context, force bool) ([]domain.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listForced = append(d.listForced, force)
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]domain.Member, 0, len(d.members))
	for _, m := range d.members {
		c := *m
		c.RoleIDs = append([]string(nil), m.RoleIDs...)
		out = append(out, c)
	}
	return out, nil
}

func (d *stubDirectory) AddRole(_ context.Context, memberID, roleID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.addErr[memberID]; err != nil {
		return err
	}
	m := d.members[memberID]
	d.mutations = append(d.mutations, "add:"+memberID+":"+roleID)
	if !m.HasRole(roleID) {
		m.RoleIDs = append(m.RoleIDs, roleID)
	}
	return nil
}

func (d *stubDirectory) RemoveRole(_ context.Context, memberID, roleID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.removeErr[memberID]; err != nil {
		return err
	}
	m := d.members[memberID]
	d.mutations = append(d.mutations, "remove:"+memberID+":"+roleID)
	kept := m.RoleIDs[:0]
	for _, id := range m.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.RoleIDs = kept
	return nil
}

func (d *stubDirectory) HasCapability(_ context.Context, c domain.Capability, _ string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps[c], nil
}

func (d *stubDirectory) HighestManagedRank(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.highest, nil
}

// ---------------------------------------------------------------------------
// Messenger stub: channels hold messages oldest first.
// ---------------------------------------------------------------------------

var mentionPattern = regexp.MustCompile(`<@([^>]+)>`)

type stubMessenger struct {
	mu         sync.Mutex
	seq        int
	channels   map[string][]domain.Message
	sent       []domain.Message
	deleted    []string
	bulk       [][]string
	tooOld     map[string]bool
	deleteErr  map[string]error
	sendErr    error
	fetchCalls int
}

func newStubMessenger() *stubMessenger {
	return &stubMessenger{
		channels:  map[string][]domain.Message{},
		tooOld:    map[string]bool{},
		deleteErr: map[string]error{},
	}
}

// post appends a message as if authorID had written it.
func (m *stubMessenger) post(channelID, authorID, content string) domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.postLocked(channelID, authorID, content)
}

func (m *stubMessenger) postLocked(channelID, authorID, content string) domain.Message {
	m.seq++
	msg := domain.Message{
		ID:        fmt.Sprintf("msg-%d", m.seq),
		GuildID:   testGuild,
		ChannelID: channelID,
		AuthorID:  authorID,
		AuthorBot: authorID == botUser,
		Content:   content,
	}
	for _, match := range mentionPattern.FindAllStringSubmatch(content, -1) {
		msg.MentionIDs = append(msg.MentionIDs, match[1])
	}
	m.channels[channelID] = append(m.channels[channelID], msg)
	return msg
}

func (m *stubMessenger) exists(channelID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.channels[channelID] {
		if msg.ID == id {
			return true
		}
	}
	return false
}

func (m *stubMessenger) sentContaining(substr string) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.sent {
		if strings.Contains(msg.Content, substr) {
			out = append(out, msg)
		}
	}
	return out
}

func (m *stubMessenger) FetchRecent(_ context.Context, channelID string, limit int, _ bool) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	msgs := m.channels[channelID]
	out := make([]domain.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (m *stubMessenger) SendMessage(_ context.Context, channelID, content string) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return domain.Message{}, m.sendErr
	}
	msg := m.postLocked(channelID, botUser, content)
	m.sent = append(m.sent, msg)
	return msg, nil
}

func (m *stubMessenger) DeleteMessage(_ context.Context, channelID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[id]; err != nil {
		return err
	}
	return m.removeLocked(channelID, id)
}

func (m *stubMessenger) removeLocked(channelID, id string) error {
	msgs := m.channels[channelID]
	for i, msg := range msgs {
		if msg.ID == id {
			m.channels[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			m.deleted = append(m.deleted, id)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *stubMessenger) BulkDelete(_ context.Context, channelID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulk = append(m.bulk, append([]string(nil), ids...))
	var old []string
	for _, id := range ids {
		if m.tooOld[id] {
			old = append(old, id)
			continue
		}
		_ = m.removeLocked(channelID, id)
	}
	if len(old) > 0 {
		return &domain.BulkDeleteError{TooOld: old}
	}
	return nil
}

func (m *stubMessenger) SelfID() string { return botUser }

// ---------------------------------------------------------------------------
// Prompt store and audit stubs
// ---------------------------------------------------------------------------

type stubPrompts struct {
	mu      sync.Mutex
	records map[string]string
	getErr  error
}

func newStubPrompts() *stubPrompts {
	return &stubPrompts{records: map[string]string{}}
}

func (p *stubPrompts) Put(_ context.Context, memberID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[memberID] = messageID
	return nil
}

func (p *stubPrompts) Get(_ context.Context, memberID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return "", false, p.getErr
	}
	id, ok := p.records[memberID]
	return id, ok, nil
}

func (p *stubPrompts) Delete(_ context.Context, memberID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, memberID)
	return nil
}

func (p *stubPrompts) has(memberID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.records[memberID]
	return ok
}

type stubAudit struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
}

func (a *stubAudit) Record(_ context.Context, o domain.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, o)
}

func (a *stubAudit) kinds(memberID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, o := range a.outcomes {
		if o.MemberID == memberID {
			out = append(out, o.Kind)
		}
	}
	return out
}

func (a *stubAudit) hasKind(memberID, kind string) bool {
	for _, k := range a.kinds(memberID) {
		if k == kind {
			return true
		}
	}
	return false
}

var errDirectoryDown = errors.New("directory: 503 service unavailable")
