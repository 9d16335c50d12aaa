// Package service provides the business flows of the post-purchase API:
// checkout offer resolution, offer management, analytics and plan changes.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"postpurchase-api/internal/analytics"
	"postpurchase-api/internal/apperr"
	"postpurchase-api/internal/database"
	"postpurchase-api/internal/eligibility"
	"postpurchase-api/internal/events"
	"postpurchase-api/internal/metrics"
	"postpurchase-api/internal/subscription"
	"postpurchase-api/internal/tracing"
	"postpurchase-api/internal/usage"
)

const defaultQueryTimeout = 5 * time.Second

// Deps are the collaborators of a Service. DB, Resolver, Recorder and
// Subscriptions are required; the rest may be left nil.
type Deps struct {
	DB            *database.DB
	Resolver      *eligibility.Resolver
	Recorder      *analytics.Recorder
	Subscriptions *subscription.Manager
	Events        *events.Manager
	Metrics       *metrics.Metrics
	Tracer        *tracing.Tracer
	Logger        *slog.Logger
	QueryTimeout  time.Duration
	Now           func() time.Time
}

// Service provides business logic for the post-purchase API.
type Service struct {
	db       *database.DB
	resolver *eligibility.Resolver
	recorder *analytics.Recorder
	subs     *subscription.Manager
	bus      *events.Manager
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer
	log      *slog.Logger

	queryTimeout time.Duration
	now          func() time.Time
}

// NewService creates a new service instance.
func NewService(d Deps) *Service {
	s := &Service{
		db:           d.DB,
		resolver:     d.Resolver,
		recorder:     d.Recorder,
		subs:         d.Subscriptions,
		bus:          d.Events,
		metrics:      d.Metrics,
		tracer:       d.Tracer,
		log:          d.Logger,
		queryTimeout: d.QueryTimeout,
		now:          d.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.queryTimeout <= 0 {
		s.queryTimeout = defaultQueryTimeout
	}
	return s
}

// storageContext bounds storage work by the query timeout. Work already
// started is not abandoned when the client goes away.
func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.queryTimeout)
}

// Ping checks that the database answers within the query timeout.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.db.Ping(ctx)
}

// usage counts active offers and this month's impressions concurrently.
func (s *Service) usage(ctx context.Context, shop string, now time.Time) (usage.Usage, error) {
	var u usage.Usage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.db.CountActiveOffers(gctx, shop, "")
		u.ActiveOffers = n
		return err
	})
	g.Go(func() error {
		n, err := s.db.SumImpressions(gctx, shop, usage.MonthStart(now), now)
		u.MonthImpressions = n
		return err
	})
	if err := g.Wait(); err != nil {
		return usage.Usage{}, storeErr("Failed to calculate usage", err)
	}
	return u, nil
}

func storeErr(msg string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(msg, err)
	}
	return apperr.Persistence(msg, err)
}
