package models

import "time"

// Session is the server-side state bound to one session cookie. A session
// without a PrincipalID is anonymous: it only carries a CSRF token, flash
// messages and the URL to return to after login.
type Session struct {
	ID           string    `json:"id"`
	PrincipalID  int64     `json:"principal_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         Role      `json:"role,omitempty"`
	DistrictID   *int64    `json:"district_id,omitempty"`
	CSRFToken    string    `json:"csrf_token"`
	CreatedAt    time.Time `json:"created_at"`
	LoginTime    time.Time `json:"login_time,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	RotatedAt    time.Time `json:"rotated_at"`
	IntendedURL  string    `json:"intended_url,omitempty"`
	Flash        []string  `json:"flash,omitempty"`
	// SuccessorID is set on the short-lived record left behind by a
	// periodic ID rotation and names the session that replaced it.
	SuccessorID string `json:"successor_id,omitempty"`
}

// HasPrincipal reports whether a principal has been stored in the session.
func (s *Session) HasPrincipal() bool {
	return s != nil && s.PrincipalID != 0
}

// Principal returns the principal snapshot held by the session.
func (s *Session) Principal() *Principal {
	if !s.HasPrincipal() {
		return nil
	}
	return &Principal{
		ID:         s.PrincipalID,
		Username:   s.Username,
		FullName:   s.DisplayName,
		Role:       s.Role,
		DistrictID: s.DistrictID,
		Active:     true,
	}
}

// RememberToken is the server-side half of a remember-me cookie.
type RememberToken struct {
	PrincipalID int64
	TokenHash   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}
