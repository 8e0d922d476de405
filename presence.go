package confclient

type Role string

const (
	RoleNone        Role = "none"
	RoleVisitor     Role = "visitor"
	RoleParticipant Role = "participant"
	RoleModerator   Role = "moderator"
)

type Affiliation string

const (
	AffiliationNone   Affiliation = "none"
	AffiliationMember Affiliation = "member"
	AffiliationAdmin  Affiliation = "admin"
	AffiliationOwner  Affiliation = "owner"
)

// MUC status codes the session machine reacts to.
const (
	StatusCodeSelfPresence      = 110
	StatusCodeKicked            = 307
	StatusCodeMembersOnlyRemove = 322
)

// Presence is one parsed room presence. The stanza transport is an external
// collaborator, it hands over presences already decoded.
type Presence struct {
	From        string
	Available   bool
	Nick        string
	Role        Role
	Affiliation Affiliation
	IsFocus     bool
	StatusCodes []int
}

func (presence Presence) hasStatusCode(code int) bool {
	for _, candidate := range presence.StatusCodes {
		if candidate == code {
			return true
		}
	}
	return false
}

// Member is the cached state of one room occupant, keyed by occupant jid.
type Member struct {
	Jid         string
	Nick        string
	Role        Role
	Affiliation Affiliation
	IsFocus     bool
}

func memberFromPresence(presence Presence) Member {
	return Member{
		Jid:         presence.From,
		Nick:        presence.Nick,
		Role:        presence.Role,
		Affiliation: presence.Affiliation,
		IsFocus:     presence.IsFocus,
	}
}
