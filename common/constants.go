package common

import "fmt"

// EntityID identifies a tracked object, typically a satellite catalog
// number such as "25544". Opaque to the sync layer, stable for the
// lifetime of a subscription.
type EntityID string

const positionSubjFormat = "pos.%s"

// PositionSubjFormat maps an entity id to its push-channel subject.
// One subject per entity.
func PositionSubjFormat(entity string) string {
	return fmt.Sprintf(positionSubjFormat, entity)
}

// WatchlistStateKey is the state-store key holding the persisted set of
// tracked entity ids. Raw positions are never persisted.
const WatchlistStateKey = "sattrack-watchlist"
