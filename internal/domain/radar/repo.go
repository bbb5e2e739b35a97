package radar

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert stores the alert unless the dedup index already holds a row
	// for the same normalized drug+title. The bool reports whether a row
	// was actually inserted.
	Insert(ctx context.Context, a *Alert) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*Alert, int, error)
	ListNew(ctx context.Context) ([]*Alert, error)
	// MarkRead clears is_new on the given ids in one statement. Unknown
	// and already-read ids are ignored; the count of updated rows comes
	// back.
	MarkRead(ctx context.Context, ids []uuid.UUID) (int, error)
	CountUnread(ctx context.Context) (int, error)
}
