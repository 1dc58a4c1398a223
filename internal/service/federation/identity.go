package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// NewIdentity derives a server identity from its public base URL.
func NewIdentity(rawURL, publicKey string) (domain.Identity, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return domain.Identity{}, domain.NewValidationError("url", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.Identity{}, domain.NewValidationError("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return domain.Identity{}, domain.NewValidationError("url", "host is required")
	}

	base := u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/")
	return domain.Identity{
		ID:        u.Host,
		URL:       base,
		PublicKey: publicKey,
		Host:      u.Host,
	}, nil
}

// resolveServer returns the servers record for the peer at baseURL. The
// peer's identity is fetched once and cached by host.
func (s *Service) resolveServer(ctx context.Context, baseURL string) (*domain.Record, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, domain.NewValidationError("url", "invalid peer url")
	}

	cached, err := s.records.Get(ctx, domain.CollectionServers, u.Host)
	if err == nil && !cached.IsDeleted() {
		return cached, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("federation.resolveServer get: %w", err)
	}

	ident, err := s.peers.Identity(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if ident.ID == "" {
		ident.ID = u.Host
	}
	if ident.URL == "" {
		ident.URL = baseURL
	}

	server, err := s.records.Upsert(ctx, domain.CollectionServers, ident.ID, ident.Data())
	if err != nil {
		return nil, fmt.Errorf("federation.resolveServer store: %w", err)
	}

	s.log.InfoContext(ctx, "peer identity cached",
		slog.String("server", ident.ID),
		slog.String("url", ident.URL))

	return server, nil
}

// registerSubscriber records the requesting server and its subscription
// to share, stamping the subscription's last sync time.
func (s *Service) registerSubscriber(ctx context.Context, share *domain.Record, sub domain.Identity) error {
	if sub.ID == "" {
		return domain.NewValidationError("subscriber.id", "required")
	}

	if _, err := s.records.Upsert(ctx, domain.CollectionServers, sub.ID, sub.Data()); err != nil {
		return fmt.Errorf("federation.registerSubscriber server: %w", err)
	}

	now := s.records.Now()
	existing, err := s.records.FindOne(ctx, domain.CollectionShareSubscribers, domain.FindOptions{
		Filter: fmt.Sprintf("share = %s AND subscribing_server = %s", quote(share.ID()), quote(sub.ID)),
	})
	switch {
	case err == nil:
		_, err = s.records.Update(ctx, domain.CollectionShareSubscribers, existing.ID(), domain.Data{"last_sync": now})
	case errors.Is(err, domain.ErrNotFound):
		_, err = s.records.Create(ctx, domain.CollectionShareSubscribers, domain.Data{
			"share":              share.ID(),
			"subscribing_server": sub.ID,
			"last_sync":          now,
		})
		if err == nil {
			s.log.InfoContext(ctx, "new subscriber",
				slog.String("share", share.ID()),
				slog.String("server", sub.ID))
		}
	}
	if err != nil {
		return fmt.Errorf("federation.registerSubscriber: %w", err)
	}
	return nil
}
