package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yicheng-lo/prayerbot/internal/models"
)

// Instrumented wraps a Store and observes every operation's latency in the
// given histogram, labelled by operation name.
func Instrumented(store Store, hist *prometheus.HistogramVec) Store {
	return &instrumentedStore{store: store, hist: hist}
}

type instrumentedStore struct {
	store Store
	hist  *prometheus.HistogramVec
}

func (s *instrumentedStore) observe(op string, start time.Time) {
	s.hist.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *instrumentedStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	defer s.observe("get_group", time.Now())
	return s.store.GetGroup(ctx, groupID)
}

func (s *instrumentedStore) PutGroup(ctx context.Context, group *models.Group) error {
	defer s.observe("put_group", time.Now())
	return s.store.PutGroup(ctx, group)
}

func (s *instrumentedStore) UpdateGroupFields(ctx context.Context, groupID string, fields map[string]any) error {
	defer s.observe("update_group_fields", time.Now())
	return s.store.UpdateGroupFields(ctx, groupID, fields)
}

func (s *instrumentedStore) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	defer s.observe("get_round", time.Now())
	return s.store.GetRound(ctx, roundID)
}

func (s *instrumentedStore) PutRound(ctx context.Context, round *models.Round) error {
	defer s.observe("put_round", time.Now())
	return s.store.PutRound(ctx, round)
}

func (s *instrumentedStore) UpdateRoundFields(ctx context.Context, roundID string, fields map[string]any) error {
	defer s.observe("update_round_fields", time.Now())
	return s.store.UpdateRoundFields(ctx, roundID, fields)
}

func (s *instrumentedStore) LatestRoundBefore(ctx context.Context, groupID string, before time.Time) (*models.Round, error) {
	defer s.observe("latest_round_before", time.Now())
	return s.store.LatestRoundBefore(ctx, groupID, before)
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	defer s.observe("ping", time.Now())
	return s.store.Ping(ctx)
}

func (s *instrumentedStore) Close() error {
	return s.store.Close()
}
