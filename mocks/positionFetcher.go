package mocks

import (
	"context"
	"time"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/ds"
	"github.com/stretchr/testify/mock"
)

type MockPositionFetcher struct {
	mock.Mock
}

func (m *MockPositionFetcher) CurrentPosition(ctx context.Context, entity common.EntityID, obs *ds.Observer) (*ds.Position, error) {
	args := m.Called(ctx, entity, obs)
	if pos := args.Get(0); pos != nil {
		return pos.(*ds.Position), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPositionFetcher) Track(ctx context.Context, entity common.EntityID, from, to time.Time, step time.Duration) ([]*ds.Position, error) {
	args := m.Called(ctx, entity, from, to, step)
	if track := args.Get(0); track != nil {
		return track.([]*ds.Position), args.Error(1)
	}
	return nil, args.Error(1)
}
