package model

// RoleSummary is the role shape embedded in access tokens.
type RoleSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// AccessPayload is the tokenizable projection of a User.
type AccessPayload struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	Avatar         string         `json:"avatar"`
	Role           *RoleSummary   `json:"role"`
	Permissions    []string       `json:"permissions"`
	IsSuperAdmin   bool           `json:"isSuperAdmin"`
	Preferences    map[string]any `json:"preferences"`
	AdminAppUserID *string        `json:"adminAppUserId"`
}

// NewAccessPayload projects u into the access token payload.
// Users currently hold a single role, so only Roles[0] is considered.
func NewAccessPayload(u *User) AccessPayload {
	p := AccessPayload{
		ID:             u.ID.String(),
		Email:          u.Email,
		Name:           u.Name,
		Avatar:         u.Avatar,
		Permissions:    []string{},
		IsSuperAdmin:   u.IsSuperAdmin,
		Preferences:    u.Preferences,
		AdminAppUserID: u.AdminAppUserID,
	}
	if len(u.Roles) == 0 {
		return p
	}
	r := u.Roles[0]
	p.Role = &RoleSummary{ID: r.ID.String(), Name: r.Name, Level: r.Level}
	for _, perm := range r.Permissions {
		p.Permissions = append(p.Permissions, perm.Name)
	}
	return p
}
