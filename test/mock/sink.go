// Copyright 2024 Block, Inc.

package mock

import (
	"context"

	"github.com/dbpoll/dbpoll"
)

type Sink struct {
	SendFunc func(ctx context.Context, m *dbpoll.Metrics) error
	NameFunc func() string
}

var _ dbpoll.Sink = Sink{}

func (s Sink) Send(ctx context.Context, m *dbpoll.Metrics) error {
	if s.SendFunc != nil {
		return s.SendFunc(ctx, m)
	}
	return nil
}

func (s Sink) Name() string {
	if s.NameFunc != nil {
		return s.NameFunc()
	}
	return "mock.Sink"
}
