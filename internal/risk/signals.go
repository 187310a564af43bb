package risk

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"awarerisk.org/internal/notify"
	"awarerisk.org/internal/phishing"
)

// RescoreOnSignals recalculates a user's score for every click or report
// notification received on msgs. It returns when msgs is closed or ctx ends.
func (e *Engine) RescoreOnSignals(ctx context.Context, msgs <-chan notify.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Topic != phishing.TopicClicked && msg.Topic != phishing.TopicReported {
				continue
			}
			var ev phishing.EventRecorded
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				e.logger.Warn("decode phishing signal", zap.String("topic", msg.Topic), zap.Error(err))
				continue
			}
			if _, err := e.CalculateUserRiskScore(ctx, ev.TenantID, ev.UserID); err != nil {
				e.logger.Warn("rescore on phishing signal failed",
					zap.String("tenant_id", ev.TenantID),
					zap.String("user_id", ev.UserID),
					zap.Error(err),
				)
			}
		}
	}
}
