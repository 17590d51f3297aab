package jobs

import (
	"fmt"

	"github.com/google/uuid"
)

// Namespace for deterministic client order ids. Fixed so the same
// (job, attempt) pair always signs the same order, letting the exchange
// deduplicate a replayed request instead of double-executing it.
var orderIDNamespace = uuid.MustParse("7f1c3a52-9b0e-4d8f-a6c1-2e5b8d4f9a03")

// ClientOrderID derives the idempotency key for one exchange call attempt.
func ClientOrderID(jobID uint, attempt int) string {
	name := fmt.Sprintf("job-%d-attempt-%d", jobID, attempt)
	return uuid.NewSHA1(orderIDNamespace, []byte(name)).String()
}
