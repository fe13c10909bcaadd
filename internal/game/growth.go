package game

import (
	"context"
	"fmt"
)

// Grow feeds r into the bufficorn with the given creation index, which must belong to
// ranch. Any failure is reported as ErrGrowthRejected; the store's cause is kept in the message.
func Grow(ctx context.Context, store BufficornStore, creationIndex int, ranch string, r Resource) (Bufficorn, error) {
	if err := r.Validate(); err != nil {
		return Bufficorn{}, fmt.Errorf("%w: %v", ErrGrowthRejected, err)
	}
	b, err := store.Feed(ctx, creationIndex, ranch, r)
	if err != nil {
		return Bufficorn{}, fmt.Errorf("%w: %v", ErrGrowthRejected, err)
	}
	return b, nil
}
