package federation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// AcceptInvite follows an invite link from another server and records the
// share locally under the remote share's id.
func (s *Service) AcceptInvite(ctx context.Context, input AcceptInviteInput) (*domain.Record, error) {
	inv, err := input.parse()
	if err != nil {
		return nil, err
	}

	server, err := s.resolveServer(ctx, inv.baseURL)
	if err != nil {
		return nil, fmt.Errorf("federation.AcceptInvite identity: %w", err)
	}

	grant, err := s.peers.Invite(ctx, inv.baseURL+InviteLink(inv.inviteID, inv.secret))
	if err != nil {
		return nil, fmt.Errorf("federation.AcceptInvite fetch: %w", err)
	}
	if grant.Share == nil || grant.Share.ID() == "" {
		return nil, &domain.PeerError{URL: inv.baseURL, Status: 200, Err: fmt.Errorf("invite response has no share")}
	}

	share, err := s.records.Upsert(ctx, domain.CollectionShares, grant.Share.ID(), domain.Data{
		"collection":   grant.Share.String("collection"),
		"record_id":    grant.Share.String("record_id"),
		"server":       server.ID(),
		"access_token": grant.AccessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("federation.AcceptInvite store: %w", err)
	}

	s.log.InfoContext(ctx, "invite accepted",
		slog.String("share", share.ID()),
		slog.String("server", server.ID()),
		slog.String("actor", input.Actor))

	return share, nil
}
