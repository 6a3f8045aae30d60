package api

import (
	"net/http"

	"golang.org/x/sync/semaphore"
)

// uploadSlots bounds concurrent submission creates. A nil value admits everything.
type uploadSlots struct {
	sem   *semaphore.Weighted
	limit int
}

func newUploadSlots(limit int) *uploadSlots {
	if limit <= 0 {
		return nil
	}
	return &uploadSlots{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// acquireUploadSlot writes 429 and reports false when every slot is taken.
func (s *server) acquireUploadSlot(w http.ResponseWriter) (func(), bool) {
	slots := s.uploadSlots
	if slots == nil {
		return func() {}, true
	}
	if slots.sem.TryAcquire(1) {
		return func() { slots.sem.Release(1) }, true
	}
	w.Header().Set("Retry-After", "2")
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many concurrent submission uploads", map[string]any{
		"limit": slots.limit,
	})
	return nil, false
}
