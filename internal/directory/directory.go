// Package directory describes the user and department lookups the engine
// needs from the surrounding identity system.
package directory

import "context"

// UnassignedDepartment groups users that have no department.
const UnassignedDepartment = "unassigned"

// User carries the display attributes used for reporting joins.
type User struct {
	TenantID            string `json:"tenant_id"`
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	DepartmentID        string `json:"department_id,omitempty"`
	FailedLoginAttempts int    `json:"failed_login_attempts"`
}

// Department returns the user's department or UnassignedDepartment.
func (u User) Department() string {
	if u.DepartmentID == "" {
		return UnassignedDepartment
	}
	return u.DepartmentID
}

// Reader resolves tenant populations.
type Reader interface {
	// TenantUserIDs lists every user id in the tenant.
	TenantUserIDs(ctx context.Context, tenantID string) ([]string, error)
	// DepartmentUserIDs lists users belonging to any of the departments.
	DepartmentUserIDs(ctx context.Context, tenantID string, departmentIDs []string) ([]string, error)
	// Users returns the known users among ids, keyed by user id. Unknown ids are omitted.
	Users(ctx context.Context, tenantID string, ids []string) (map[string]User, error)
}
