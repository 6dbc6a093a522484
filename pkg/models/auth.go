package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of principal roles.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdministrator
	RoleSupervisor
	RoleNotary
)

var roleNames = map[Role]string{
	RoleAdministrator: "administrator",
	RoleSupervisor:    "supervisor",
	RoleNotary:        "notary",
}

// Roles lists every assignable role.
func Roles() []Role {
	return []Role{RoleAdministrator, RoleSupervisor, RoleNotary}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRole maps a stored role name onto a Role. "district_head" is accepted
// as an alias for the supervisor role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "administrator", "admin":
		return RoleAdministrator, nil
	case "supervisor", "district_head":
		return RoleSupervisor, nil
	case "notary":
		return RoleNotary, nil
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Principal is an account that can authenticate.
type Principal struct {
	ID           int64
	Username     string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	DistrictID   *int64 // district-scoped roles only
	LicenseID    *int64 // notaries only
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

// InDistrict reports whether the principal is affiliated with district id.
func (p *Principal) InDistrict(id int64) bool {
	return p.DistrictID != nil && *p.DistrictID == id
}

// DisplayName returns the full name, falling back to the username.
func (p *Principal) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

// License status values.
const (
	LicenseActive    = "active"
	LicenseSuspended = "suspended"
	LicenseRevoked   = "revoked"
)

// License is a notary's professional license.
type License struct {
	ID         int64
	Number     string
	Status     string
	ExpiryDate time.Time
}

// IsActive reports whether the license status permits practice.
func (l *License) IsActive() bool {
	return l.Status == LicenseActive
}

// IsExpired reports whether the license expiry date lies before now.
func (l *License) IsExpired(now time.Time) bool {
	return !l.ExpiryDate.IsZero() && now.After(l.ExpiryDate)
}
