// Package federation implements the invite and sync protocol between peer
// servers, on both the origin and the subscriber side.
package federation

import (
	"context"
	"log/slog"

	"github.com/heartmarshall/fedrecords/internal/auth"
	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/records"
	"github.com/heartmarshall/fedrecords/internal/sharing"
)

// peerClient talks to other servers.
type peerClient interface {
	Identity(ctx context.Context, baseURL string) (domain.Identity, error)
	Invite(ctx context.Context, inviteURL string) (*domain.InviteGrant, error)
	InitialSync(ctx context.Context, baseURL, shareID, token string, req domain.SyncRequest) (*domain.InitialSync, error)
	IncrementalSync(ctx context.Context, baseURL, shareID, token, since string, req domain.SyncRequest) (*domain.IncrementalSync, error)
}

// tokenManager issues and checks share access tokens.
type tokenManager interface {
	IssueShareToken(shareID, inviteID string) (string, error)
	ValidateShareToken(token string) (auth.ShareAccess, error)
}

// secretKeeper creates invite secrets and checks presented ones.
type secretKeeper interface {
	Generate() (raw string, hash string, err error)
	Verify(hash, raw string) bool
}

// Service implements the federation protocol.
type Service struct {
	log     *slog.Logger
	records *records.Engine
	graph   *sharing.Graph
	peers   peerClient
	tokens  tokenManager
	secrets secretKeeper
	self    domain.Identity
}

// NewService creates a federation service for the server described by self.
func NewService(
	logger *slog.Logger,
	recs *records.Engine,
	graph *sharing.Graph,
	peers peerClient,
	tokens tokenManager,
	secrets secretKeeper,
	self domain.Identity,
) *Service {
	return &Service{
		log:     logger.With("service", "federation"),
		records: recs,
		graph:   graph,
		peers:   peers,
		tokens:  tokens,
		secrets: secrets,
		self:    self,
	}
}

// Identity returns this server's identity.
func (s *Service) Identity() domain.Identity { return s.self }
