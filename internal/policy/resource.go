package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/org/notaryadmin/pkg/models"
)

// ErrUnknownResourceType is returned for resource kinds outside the registry.
var ErrUnknownResourceType = errors.New("unknown resource type")

// Kind names a resource type.
type Kind string

const (
	KindUser        Kind = "user"
	KindContract    Kind = "contract"
	KindTransaction Kind = "transaction"
	KindDistrict    Kind = "district"
)

// ParseKind maps a resource type name onto a Kind. Plural forms are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "user":
		return KindUser, nil
	case "contract":
		return KindContract, nil
	case "transaction":
		return KindTransaction, nil
	case "district":
		return KindDistrict, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownResourceType, s)
}

// Resource is a sealed set of access-controlled records. Each variant
// decides for itself which non-administrators may reach it.
type Resource interface {
	Kind() Kind
	ResourceID() int64
	permits(p *models.Principal) bool
}

// UserResource is a user account.
type UserResource struct {
	ID         int64       `json:"id"`
	Role       models.Role `json:"role"`
	DistrictID *int64      `json:"district_id,omitempty"`
}

func (r UserResource) Kind() Kind        { return KindUser }
func (r UserResource) ResourceID() int64 { return r.ID }

// A user may read their own record. A supervisor may read notaries of
// their own district.
func (r UserResource) permits(p *models.Principal) bool {
	if r.ID == p.ID {
		return true
	}
	return p.Role == models.RoleSupervisor &&
		r.Role == models.RoleNotary &&
		r.DistrictID != nil && p.InDistrict(*r.DistrictID)
}

// ContractResource is a notarial contract.
type ContractResource struct {
	ID         int64 `json:"id"`
	NotaryID   int64 `json:"notary_id"`
	DistrictID int64 `json:"district_id"`
}

func (r ContractResource) Kind() Kind        { return KindContract }
func (r ContractResource) ResourceID() int64 { return r.ID }

func (r ContractResource) permits(p *models.Principal) bool {
	return ownedRecordPermits(p, r.NotaryID, r.DistrictID)
}

// TransactionResource is a notarial transaction.
type TransactionResource struct {
	ID         int64 `json:"id"`
	NotaryID   int64 `json:"notary_id"`
	DistrictID int64 `json:"district_id"`
}

func (r TransactionResource) Kind() Kind        { return KindTransaction }
func (r TransactionResource) ResourceID() int64 { return r.ID }

func (r TransactionResource) permits(p *models.Principal) bool {
	return ownedRecordPermits(p, r.NotaryID, r.DistrictID)
}

// Notaries see only their own records; supervisors see their district's.
func ownedRecordPermits(p *models.Principal, notaryID, districtID int64) bool {
	switch p.Role {
	case models.RoleNotary:
		return p.ID == notaryID
	case models.RoleSupervisor:
		return p.InDistrict(districtID)
	}
	return false
}

// DistrictResource is a district.
type DistrictResource struct {
	ID int64 `json:"id"`
}

func (r DistrictResource) Kind() Kind        { return KindDistrict }
func (r DistrictResource) ResourceID() int64 { return r.ID }

func (r DistrictResource) permits(p *models.Principal) bool {
	switch p.Role {
	case models.RoleSupervisor, models.RoleNotary:
		return p.InDistrict(r.ID)
	}
	return false
}

// CanAccessResource reports whether p may reach res. Administrators reach
// everything; nil inputs are denied.
func CanAccessResource(p *models.Principal, res Resource) bool {
	if p == nil || res == nil {
		return false
	}
	if p.Role == models.RoleAdministrator {
		return true
	}
	return res.permits(p)
}
