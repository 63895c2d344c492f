package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect. Back-to-back slots (one ending exactly when
// the other starts) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// ConflictingSlot returns the first slot in existing whose range overlaps
// [start, end), skipping the slot identified by exclude (uuid.Nil to skip
// nothing; used when updating a slot so it does not conflict with itself).
func ConflictingSlot(existing []Slot, start, end time.Time, exclude uuid.UUID) *Slot {
	for i := range existing {
		s := &existing[i]
		if s.ID == exclude {
			continue
		}
		if Overlaps(s.StartTime, s.EndTime, start, end) {
			return s
		}
	}
	return nil
}
