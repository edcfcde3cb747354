package valkey

import (
	"context"

	set "github.com/duke-git/lancet/v2/datastructure/set"
	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/config"
	"github.com/karansahani78/sattrack/services"
	"github.com/valkey-io/valkey-go"
)

// WatchlistStore persists the bounded set of tracked entity ids across
// sessions so a restarted daemon resumes syncing the same satellites.
// Positions themselves are volatile and never stored here.
type WatchlistStore struct {
	client valkey.Client
}

func NewWatchlistStore(cfg *config.Config) (services.StateStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  cfg.StateStore.Addr,
		DisableCache: false,
	})
	if err != nil {
		return nil, err
	}
	return &WatchlistStore{client: client}, nil
}

func (s *WatchlistStore) Close() {
	s.client.Close()
}

func (s *WatchlistStore) AddWatchedEntity(ctx context.Context, entity common.EntityID) error {
	cmd := s.client.B().Sadd().Key(common.WatchlistStateKey).Member(string(entity)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return err
	}
	return nil
}

func (s *WatchlistStore) RemoveWatchedEntity(ctx context.Context, entity common.EntityID) error {
	cmd := s.client.B().Srem().Key(common.WatchlistStateKey).Member(string(entity)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return err
	}
	return nil
}

func (s *WatchlistStore) ListWatchedEntities(ctx context.Context) ([]common.EntityID, error) {
	cmd := s.client.B().Smembers().Key(common.WatchlistStateKey).Build()
	result, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, err
	}

	// Callers refcount one sync per entity, so the list must stay
	// duplicate-free even if the backing key was written by hand.
	seen := set.New[common.EntityID]()
	entities := make([]common.EntityID, 0, len(result))
	for _, x := range result {
		val, err := x.ToString()
		if err != nil {
			return nil, err
		}
		id := common.EntityID(val)
		if seen.Contain(id) {
			continue
		}
		seen.Add(id)
		entities = append(entities, id)
	}
	return entities, nil
}
