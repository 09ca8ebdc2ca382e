package models

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// TeamAccount is a team-bound posting identity. It is addressable by either
// its row id or the id of the team it belongs to.
type TeamAccount struct {
	ID          string `db:"id" json:"id"`
	TeamID      string `db:"team_id" json:"team_id"`
	OwnerUserID int64  `db:"owner_user_id" json:"owner_user_id"`
	Label       string `db:"label" json:"label"`
}

type TeamMembership struct {
	TeamID string `db:"team_id" json:"team_id"`
	UserID int64  `db:"user_id" json:"user_id"`
	Role   string `db:"role" json:"role"`
}

type TeamAccountBinding struct {
	AccountID     string `json:"account_id"`
	TeamID        string `json:"team_id"`
	OwnerUserID   int64  `json:"owner_user_id"`
	RequesterRole string `json:"requester_role"`
}

// EquivalentIDs returns every identifier that names the bound account.
func (b *TeamAccountBinding) EquivalentIDs() []string {
	if b == nil {
		return nil
	}
	ids := []string{b.AccountID}
	if b.TeamID != "" && b.TeamID != b.AccountID {
		ids = append(ids, b.TeamID)
	}
	return ids
}

func (b *TeamAccountBinding) Matches(id string) bool {
	for _, candidate := range b.EquivalentIDs() {
		if candidate == id {
			return true
		}
	}
	return false
}

func (b *TeamAccountBinding) IsManager() bool {
	return b != nil && (b.RequesterRole == RoleOwner || b.RequesterRole == RoleAdmin)
}
