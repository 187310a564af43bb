package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"awarerisk.org/internal/obs"
)

// BulkResult reports a tenant-wide rescore.
type BulkResult struct {
	TenantID    string   `json:"tenant_id"`
	Total       int      `json:"total"`
	Succeeded   int      `json:"succeeded"`
	FailedUsers []string `json:"failed_users,omitempty"`
}

// BulkCalculateRiskScores scores every user in the tenant on a bounded
// worker pool. A failing user is logged and skipped.
func (e *Engine) BulkCalculateRiskScores(ctx context.Context, tenantID string) (BulkResult, error) {
	userIDs, err := e.src.Directory.TenantUserIDs(ctx, tenantID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list tenant users: %w", err)
	}
	res := BulkResult{TenantID: tenantID, Total: len(userIDs)}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			_, err := e.CalculateUserRiskScore(ctx, tenantID, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.FailedUsers = append(res.FailedUsers, userID)
				e.logger.Warn("risk score failed",
					zap.String("tenant_id", tenantID),
					zap.String("user_id", userID),
					zap.Error(err),
				)
				return nil
			}
			res.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.FailedUsers)
	obs.SetBulkRun(res.Succeeded, len(res.FailedUsers))
	e.logger.Info("bulk risk scoring complete",
		zap.String("tenant_id", tenantID),
		zap.Int("total", res.Total),
		zap.Int("succeeded", res.Succeeded),
	)
	return res, nil
}
