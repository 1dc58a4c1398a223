package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// fetchLimit caps concurrent record reads while assembling a sync response.
const fetchLimit = 16

// ServeInitialSync returns the full content of a share to a subscriber and
// registers the subscriber.
func (s *Service) ServeInitialSync(ctx context.Context, shareID, token string, req domain.SyncRequest) (*domain.InitialSync, error) {
	share, err := s.openShare(ctx, shareID, token)
	if err != nil {
		return nil, err
	}
	if err := s.registerSubscriber(ctx, share, req.Subscriber); err != nil {
		return nil, err
	}

	cursor := s.records.Now()
	deps, err := s.records.FindAll(ctx, domain.CollectionShareDependencies, "share = "+quote(share.ID()), "")
	if err != nil {
		return nil, fmt.Errorf("federation.ServeInitialSync dependencies: %w", err)
	}

	recs := make([]*domain.Record, len(deps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, dep := range deps {
		g.Go(func() error {
			r, err := s.records.Get(gctx, dep.String("child_collection"), dep.String("child_id"))
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: %s %s", domain.ErrBrokenReference, dep.String("child_collection"), dep.String("child_id"))
			}
			if err != nil {
				return err
			}
			recs[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("federation.ServeInitialSync records: %w", err)
	}

	s.log.InfoContext(ctx, "initial sync served",
		slog.String("share", share.ID()),
		slog.String("subscriber", req.Subscriber.ID),
		slog.Int("records", len(recs)))

	return &domain.InitialSync{Records: recs, Dependencies: deps, Cursor: cursor}, nil
}

// ServeIncrementalSync returns the share updates logged after since, oldest
// first, each with the current state of its record. An empty since returns
// the whole log.
func (s *Service) ServeIncrementalSync(ctx context.Context, shareID, token, since string, req domain.SyncRequest) (*domain.IncrementalSync, error) {
	if since != "" {
		t, err := domain.ParseTime(since)
		if err != nil {
			return nil, domain.NewValidationError("since", "invalid timestamp")
		}
		since = domain.FormatTime(t)
	}

	share, err := s.openShare(ctx, shareID, token)
	if err != nil {
		return nil, err
	}
	if err := s.registerSubscriber(ctx, share, req.Subscriber); err != nil {
		return nil, err
	}

	filter := "share = " + quote(share.ID())
	if since != "" {
		filter += fmt.Sprintf(" AND %s > %s", domain.FieldCreatedAt, quote(since))
	}
	updates, err := s.records.FindAll(ctx, domain.CollectionShareUpdates, filter, domain.FieldCreatedAt)
	if err != nil {
		return nil, fmt.Errorf("federation.ServeIncrementalSync updates: %w", err)
	}

	out := &domain.IncrementalSync{}
	out.Data.Records = make([]domain.SyncUpdate, len(updates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, u := range updates {
		g.Go(func() error {
			entry := domain.SyncUpdate{Collection: u.Collection, ID: u.ID(), Data: u.Data}
			payload, err := s.records.Get(gctx, u.String("collection"), u.String("record_id"))
			switch {
			case err == nil:
				entry.Expand.Payload = payload
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
			out.Data.Records[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("federation.ServeIncrementalSync payloads: %w", err)
	}

	s.log.InfoContext(ctx, "incremental sync served",
		slog.String("share", share.ID()),
		slog.String("subscriber", req.Subscriber.ID),
		slog.String("since", since),
		slog.Int("updates", len(updates)))

	return out, nil
}

// openShare loads a live share. A presented token must have been issued
// for that share.
func (s *Service) openShare(ctx context.Context, shareID, token string) (*domain.Record, error) {
	if token != "" {
		access, err := s.tokens.ValidateShareToken(token)
		if err != nil || access.ShareID != shareID {
			return nil, domain.ErrUnauthorized
		}
	}

	share, err := s.records.Get(ctx, domain.CollectionShares, shareID)
	if err != nil {
		return nil, err
	}
	if share.IsDeleted() {
		return nil, fmt.Errorf("share %s: %w", shareID, domain.ErrNotFound)
	}
	return share, nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
