package policy

import (
	"errors"
	"sort"

	"github.com/org/notaryadmin/pkg/models"
)

// ErrPermissionDenied is returned when a role lacks a required permission.
var ErrPermissionDenied = errors.New("permission denied")

// Permission is a named capability granted to roles.
type Permission string

const (
	ManageUsers      Permission = "manage_users"
	ManageDistricts  Permission = "manage_districts"
	ManageLicenses   Permission = "manage_licenses"
	ManageSystem     Permission = "manage_system"
	ViewAuditLog     Permission = "view_audit_log"
	ViewAllReports   Permission = "view_all_reports"
	BackupRestore    Permission = "backup_restore"
	ExportData       Permission = "export_data"
	ViewAllContracts Permission = "view_all_contracts"

	ViewDistrictUsers        Permission = "view_district_users"
	ManageDistrictNotaries   Permission = "manage_district_notaries"
	ViewDistrictContracts    Permission = "view_district_contracts"
	ViewDistrictTransactions Permission = "view_district_transactions"
	ViewDistrictReports      Permission = "view_district_reports"

	ViewOwnContracts      Permission = "view_own_contracts"
	ManageOwnContracts    Permission = "manage_own_contracts"
	ViewOwnTransactions   Permission = "view_own_transactions"
	ManageOwnTransactions Permission = "manage_own_transactions"
	ViewOwnProfile        Permission = "view_own_profile"
	UpdateOwnProfile      Permission = "update_own_profile"
)

// table is the complete role to permission grant. Administrator is listed
// for completeness; HasPermission short-circuits it.
var table = map[models.Role]map[Permission]bool{
	models.RoleAdministrator: set(
		ManageUsers, ManageDistricts, ManageLicenses, ManageSystem, ViewAuditLog,
		ViewAllReports, BackupRestore, ExportData, ViewAllContracts,
		ViewOwnProfile, UpdateOwnProfile,
	),
	models.RoleSupervisor: set(
		ViewDistrictUsers, ManageDistrictNotaries, ViewDistrictContracts,
		ViewDistrictTransactions, ViewDistrictReports,
		ViewOwnProfile, UpdateOwnProfile,
	),
	models.RoleNotary: set(
		ViewOwnContracts, ManageOwnContracts, ViewOwnTransactions,
		ManageOwnTransactions, ViewOwnProfile, UpdateOwnProfile,
	),
}

func set(perms ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

// HasPermission reports whether role holds perm. Administrator holds every
// permission.
func HasPermission(role models.Role, perm Permission) bool {
	if role == models.RoleAdministrator {
		return true
	}
	return table[role][perm]
}

// PermissionsFor lists the permissions explicitly granted to role, sorted.
func PermissionsFor(role models.Role) []Permission {
	out := make([]Permission, 0, len(table[role]))
	for p := range table[role] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllPermissions lists every permission known to the registry, sorted.
func AllPermissions() []Permission {
	seen := map[Permission]bool{}
	for _, perms := range table {
		for p := range perms {
			seen[p] = true
		}
	}
	out := make([]Permission, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
