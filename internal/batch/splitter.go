package batch

import (
	"github.com/prsentry/prsentry/internal/errors"
	"github.com/prsentry/prsentry/internal/models"
)

// Split partitions records into budget-bounded batches using a greedy
// forward pack. Records stay in input order; risk never reorders the plan,
// so the same changeset and budget always yield a byte-identical plan.
//
// A record larger than the whole budget becomes a singleton batch: a
// file's hunks are atomic and are never split across batches.
func Split(records []models.ChangeRecord, budgetLOC int) ([]models.Batch, error) {
	if budgetLOC <= 0 {
		return nil, errors.InvalidConfigurationf("batch budget must be positive, got %d", budgetLOC)
	}
	if len(records) == 0 {
		return []models.Batch{}, nil
	}

	var batches []models.Batch
	current := models.Batch{Index: 0}

	flush := func() {
		if len(current.Records) == 0 {
			return
		}
		batches = append(batches, current)
		current = models.Batch{Index: len(batches)}
	}

	for _, rec := range records {
		loc := rec.LOC()
		if len(current.Records) > 0 && current.TotalLOC+loc > budgetLOC {
			flush()
		}
		current.Records = append(current.Records, rec)
		current.TotalLOC += loc
		// An oversized record never shares a batch, so close immediately.
		if loc > budgetLOC {
			flush()
		}
	}
	flush()

	return batches, nil
}
