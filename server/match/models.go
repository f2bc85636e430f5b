package match

import (
	"strings"
	"time"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

type Role string

const (
	RoleSurvivor Role = "survivor"
	RoleKiller   Role = "killer"
)

func (r Role) Valid() bool {
	return r == RoleSurvivor || r == RoleKiller
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", xerr.Newf(xerr.CodeUnknownRole, "role must be either %q or %q, got %q", RoleSurvivor, RoleKiller, s)
	}
	return r, nil
}

// PlayerInfo is the public view of a participant, without its ticket.
type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Participant is immutable once admitted.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	TicketID string    `json:"ticketID"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (p Participant) Info() PlayerInfo {
	return PlayerInfo{ID: p.ID, Name: p.Name, Role: string(p.Role)}
}

type Match struct {
	ID        string        `json:"id"`
	Survivors []Participant `json:"survivors"`
	Killer    Participant   `json:"killer"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Tickets lists every member ticket, survivors first.
func (m *Match) Tickets() []string {
	ret := make([]string, 0, len(m.Survivors)+1)
	for _, s := range m.Survivors {
		ret = append(ret, s.TicketID)
	}
	return append(ret, m.Killer.TicketID)
}

func (m *Match) Has(ticket string) bool {
	for _, t := range m.Tickets() {
		if t == ticket {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with m.
func (m *Match) Clone() *Match {
	c := *m
	c.Survivors = append([]Participant(nil), m.Survivors...)
	return &c
}

func (m *Match) SurvivorInfos() []PlayerInfo {
	ret := make([]PlayerInfo, 0, len(m.Survivors))
	for _, s := range m.Survivors {
		ret = append(ret, s.Info())
	}
	return ret
}

func (m *Match) validate() error {
	if m == nil || m.ID == "" {
		return xerr.New(xerr.CodeInvalidParticipant, "match without id")
	}
	seen := make(map[string]struct{}, len(m.Survivors)+1)
	for _, t := range m.Tickets() {
		if t == "" {
			return xerr.Newf(xerr.CodeInvalidParticipant, "match %s has a member without ticket", m.ID)
		}
		if _, dup := seen[t]; dup {
			return xerr.Newf(xerr.CodeDuplicateTicket, "ticket %s appears twice in match %s", t, m.ID)
		}
		seen[t] = struct{}{}
	}
	return nil
}

type State string

const (
	StateWaiting State = "waiting"
	StateMatched State = "matched"
	StateUnknown State = "unknown"
)

type Status struct {
	State State  `json:"state"`
	Match *Match `json:"match,omitempty"`
	// Position in the role queue, set for StateWaiting when known.
	Position int `json:"position,omitempty"`
}
