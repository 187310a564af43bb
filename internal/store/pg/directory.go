package pg

import (
	"context"

	"awarerisk.org/internal/directory"
)

func (s *Store) TenantUserIDs(ctx context.Context, tenantID string) ([]string, error) {
	return s.queryIDs(ctx, `select id from users where tenant_id=$1 order by id`, tenantID)
}

func (s *Store) DepartmentUserIDs(ctx context.Context, tenantID string, departmentIDs []string) ([]string, error) {
	if len(departmentIDs) == 0 {
		return nil, nil
	}
	return s.queryIDs(ctx, `
		select id from users
		where tenant_id=$1 and department_id in (`+placeholders(2, len(departmentIDs))+`)
		order by id
	`, stringArgs([]any{tenantID}, departmentIDs)...)
}

func (s *Store) Users(ctx context.Context, tenantID string, ids []string) (map[string]directory.User, error) {
	out := make(map[string]directory.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select tenant_id, id, name, email, coalesce(department_id, ''), failed_login_attempts
		from users
		where tenant_id=$1 and id in (`+placeholders(2, len(ids))+`)
	`, stringArgs([]any{tenantID}, ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u directory.User
		if err := rows.Scan(&u.TenantID, &u.ID, &u.Name, &u.Email, &u.DepartmentID, &u.FailedLoginAttempts); err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
