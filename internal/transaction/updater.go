package transaction

import (
	"time"

	"github.com/ashendes/transactional-rest/internal/models"
)

// Updater stamps timing data on transactions
type Updater struct{}

// UpdateResponseTime records the time elapsed between the start of the
// request and at
func (Updater) UpdateResponseTime(tx *models.Transaction, started, at time.Time) error {
	elapsed := at.Sub(started)
	if elapsed < 0 {
		elapsed = 0
	}
	return tx.SetResponseTime(elapsed, at)
}
