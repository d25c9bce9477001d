package services

import (
	"context"
	"log"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/artifactstore"
)

// TempFileService removes uploads that were never processed.
type TempFileService struct {
	store artifactstore.Store
	now   func() time.Time
}

func NewTempFileService(store artifactstore.Store) *TempFileService {
	return &TempFileService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (t *TempFileService) WithClock(now func() time.Time) *TempFileService {
	t.now = now
	return t
}

// Cleanup deletes every temporary upload whose expiry has passed and returns
// the number removed. Files that cannot be deleted are logged and skipped.
func (t *TempFileService) Cleanup(ctx context.Context) (int, error) {
	files, err := t.store.ListTemp(ctx)
	if err != nil {
		return 0, err
	}
	now := t.now()
	removed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if f.ExpiresAt.After(now) {
			continue
		}
		if err := t.store.DeleteTemp(ctx, f.Ref); err != nil {
			log.Printf("[tempfiles] skip %s: %v", f.Ref, err)
			continue
		}
		removed++
	}
	log.Printf("[tempfiles] removed %d expired uploads", removed)
	return removed, nil
}
