package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/NordCoder/Nudger/internal/domain/outbox"
	"github.com/NordCoder/Nudger/internal/repository/postgres"
	"github.com/google/uuid"
)

var keySpace = uuid.MustParse("6f1b6d0e-3c47-4b8e-9d8a-2f3b1c9e7a51")

// outboxKey is stable for the same user, cycle and subject, so a replayed
// record does not enqueue twice.
func outboxKey(kind outbox.Kind, userID string, cycleAt time.Time, subject string) string {
	name := fmt.Sprintf("%s|%s|%d|%s", kind, userID, cycleAt.UnixNano(), subject)
	return uuid.NewSHA1(keySpace, []byte(name)).String()
}

// Recorder writes the send outcome of one user in a single transaction:
// the last-sent mark, the delivery report and one rejection per dead token.
type Recorder struct {
	Tx     postgres.Transactor
	Prefs  notification.PreferenceRepo
	Outbox outbox.Repository
}

func (r Recorder) Record(ctx context.Context, cycleAt time.Time, out notification.SendOutcome) error {
	return r.Tx.WithTx(ctx, func(ctx context.Context) error {
		if out.Served() {
			if err := r.Prefs.UpdateLastNotificationSent(ctx, out.UserID, cycleAt); err != nil {
				return fmt.Errorf("update last sent: %w", err)
			}
		}
		if r.Outbox == nil {
			return nil
		}

		report, err := json.Marshal(outbox.DeliveryReport{
			UserID:       out.UserID,
			CycleAt:      cycleAt,
			SuccessCount: out.SuccessCount,
			FailureCount: out.FailureCount,
			Served:       out.Served(),
		})
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		if err := r.Outbox.Enqueue(ctx, outboxKey(outbox.KindDeliveryReport, out.UserID, cycleAt, ""),
			outbox.KindDeliveryReport, report); err != nil {
			return fmt.Errorf("enqueue report: %w", err)
		}

		for _, te := range out.PermanentFailures() {
			reason := "rejected"
			if te.Err != nil {
				reason = te.Err.Error()
			}
			data, err := json.Marshal(outbox.TokenRejected{
				UserID:  out.UserID,
				Token:   te.Token,
				Reason:  reason,
				CycleAt: cycleAt,
			})
			if err != nil {
				return fmt.Errorf("marshal token rejected: %w", err)
			}
			if err := r.Outbox.Enqueue(ctx, outboxKey(outbox.KindTokenRejected, out.UserID, cycleAt, te.Token),
				outbox.KindTokenRejected, data); err != nil {
				return fmt.Errorf("enqueue token rejected: %w", err)
			}
		}
		return nil
	})
}
