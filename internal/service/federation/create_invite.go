package federation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// InviteResult is a freshly created share and the link to hand out for it.
type InviteResult struct {
	Share  *domain.Record
	Invite *domain.Record
	// Path is relative to the server base URL; URL is absolute.
	Path string
	URL  string
}

// CreateInvite shares a record: it creates the share, materializes its
// dependency tree and issues an invite with a random secret. Only the
// secret's hash is stored.
func (s *Service) CreateInvite(ctx context.Context, input CreateInviteInput) (*InviteResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	root, err := s.records.Get(ctx, input.Collection, input.RecordID)
	if err != nil {
		return nil, err
	}
	if root.IsDeleted() {
		return nil, fmt.Errorf("federation.CreateInvite: %s %s: %w", input.Collection, input.RecordID, domain.ErrNotFound)
	}

	share, err := s.records.Create(ctx, domain.CollectionShares, domain.Data{
		"collection": input.Collection,
		"record_id":  input.RecordID,
	})
	if err != nil {
		return nil, fmt.Errorf("federation.CreateInvite share: %w", err)
	}

	edges, err := s.graph.BuildShare(ctx, share, false)
	if err != nil {
		return nil, fmt.Errorf("federation.CreateInvite build: %w", err)
	}

	raw, hash, err := s.secrets.Generate()
	if err != nil {
		return nil, fmt.Errorf("federation.CreateInvite secret: %w", err)
	}
	invite, err := s.records.Create(ctx, domain.CollectionInvites, domain.Data{
		"share":  share.ID(),
		"owner":  input.Actor,
		"secret": hash,
	})
	if err != nil {
		return nil, fmt.Errorf("federation.CreateInvite invite: %w", err)
	}

	path := InviteLink(invite.ID(), raw)

	s.log.InfoContext(ctx, "share created",
		slog.String("share", share.ID()),
		slog.String("root", input.RecordID),
		slog.String("owner", input.Actor),
		slog.Int("edges", edges))

	return &InviteResult{
		Share:  share,
		Invite: invite,
		Path:   path,
		URL:    s.self.URL + path,
	}, nil
}

// GetInvite hands out an invite to a peer presenting its secret, together
// with the share and an access token for it.
func (s *Service) GetInvite(ctx context.Context, inviteID, secret string) (*domain.InviteGrant, error) {
	invite, err := s.records.Get(ctx, domain.CollectionInvites, inviteID)
	if err != nil {
		return nil, err
	}
	if invite.IsDeleted() {
		return nil, fmt.Errorf("invite %s: %w", inviteID, domain.ErrNotFound)
	}
	if !s.secrets.Verify(invite.String("secret"), secret) {
		return nil, domain.ErrUnauthorized
	}

	share, err := s.records.Get(ctx, domain.CollectionShares, invite.String("share"))
	if err != nil {
		return nil, fmt.Errorf("federation.GetInvite share: %w", err)
	}
	if share.IsDeleted() {
		return nil, fmt.Errorf("share %s: %w", share.ID(), domain.ErrNotFound)
	}

	token, err := s.tokens.IssueShareToken(share.ID(), invite.ID())
	if err != nil {
		return nil, fmt.Errorf("federation.GetInvite token: %w", err)
	}

	// The stored hash stays on this server.
	public := &domain.Record{Collection: invite.Collection, Data: invite.Data.Clone(), Schema: invite.Schema}
	delete(public.Data, "secret")

	return &domain.InviteGrant{
		Invite:      public,
		Share:       share,
		AccessToken: token,
	}, nil
}
