package schema

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh record id.
//
// Ids are time-ordered UUIDv7 strings. Bare millisecond timestamps collide
// when records are created in a burst (menu-to-shopping-list copies,
// scripted imports); v7 keeps the ordering and drops the collisions. The
// timestamp form is only used if the random source fails.
func NewID(now time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		return strconv.FormatInt(now.UnixMilli(), 10)
	}
	return id.String()
}
