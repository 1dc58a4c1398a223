package federation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// SyncResult summarizes one sync run on the subscriber side.
type SyncResult struct {
	Mode         string `json:"mode"`
	Records      int    `json:"records"`
	Dependencies int    `json:"dependencies"`
	Deleted      int    `json:"deleted"`
	Detached     int    `json:"detached"`
	Skipped      int    `json:"skipped"`
	Cursor       string `json:"cursor"`
}

const (
	ModeInitial     = "initial"
	ModeIncremental = "incremental"
)

// Sync pulls a remote share: a full initial sync when it never synced,
// otherwise an incremental one.
func (s *Service) Sync(ctx context.Context, shareID string) (*SyncResult, error) {
	share, err := s.records.Get(ctx, domain.CollectionShares, shareID)
	if err != nil {
		return nil, err
	}
	if share.String("last_remote_sync") == "" {
		return s.InitialSync(ctx, shareID)
	}
	return s.IncrementalSync(ctx, shareID)
}

// remoteShare is a local share together with the server it comes from.
type remoteShare struct {
	share   *domain.Record
	baseURL string
	token   string
}

func (s *Service) remote(ctx context.Context, shareID string) (*remoteShare, error) {
	share, err := s.records.Get(ctx, domain.CollectionShares, shareID)
	if err != nil {
		return nil, err
	}
	if share.IsDeleted() {
		return nil, fmt.Errorf("share %s: %w", shareID, domain.ErrNotFound)
	}

	node := domain.NewExpanded(share)
	if err := s.records.ExpandDepth(ctx, node, []string{"server"}, 0); err != nil {
		return nil, fmt.Errorf("federation: share server: %w", err)
	}
	server := node.Expand["server"].One()
	if server == nil || server.String("url") == "" {
		return nil, domain.NewValidationError("share", "not a remote share")
	}

	return &remoteShare{
		share:   share,
		baseURL: server.String("url"),
		token:   share.String("access_token"),
	}, nil
}

// InitialSync imports the full content of a remote share. Dependency edges
// are stored before the records so the local tracker sees the records as
// already shared.
func (s *Service) InitialSync(ctx context.Context, shareID string) (*SyncResult, error) {
	rs, err := s.remote(ctx, shareID)
	if err != nil {
		return nil, err
	}

	resp, err := s.peers.InitialSync(ctx, rs.baseURL, shareID, rs.token, domain.SyncRequest{Subscriber: s.self})
	if err != nil {
		return nil, fmt.Errorf("federation.InitialSync: %w", err)
	}

	for _, dep := range resp.Dependencies {
		if err := s.importRecord(ctx, dep); err != nil {
			return nil, fmt.Errorf("federation.InitialSync dependency: %w", err)
		}
	}
	for _, rec := range resp.Records {
		if err := s.importRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("federation.InitialSync record: %w", err)
		}
	}

	cursor := resp.Cursor
	if t, err := domain.ParseTime(cursor); err == nil {
		cursor = domain.FormatTime(t)
	} else {
		cursor = s.records.Now()
	}
	if _, err := s.records.Update(ctx, domain.CollectionShares, shareID, domain.Data{"last_remote_sync": cursor}); err != nil {
		return nil, fmt.Errorf("federation.InitialSync cursor: %w", err)
	}

	s.log.InfoContext(ctx, "initial sync completed",
		slog.String("share", shareID),
		slog.Int("records", len(resp.Records)),
		slog.Int("dependencies", len(resp.Dependencies)))

	return &SyncResult{
		Mode:         ModeInitial,
		Records:      len(resp.Records),
		Dependencies: len(resp.Dependencies),
		Cursor:       cursor,
	}, nil
}

// IncrementalSync replays the updates logged on the remote since the last
// sync, in the order received. Creates and updates write the record's
// current remote state. A delete detaches the record from this share only,
// unless the remote record is itself gone, in which case the local copy is
// tombstoned. The cursor moves to the newest update received.
func (s *Service) IncrementalSync(ctx context.Context, shareID string) (*SyncResult, error) {
	rs, err := s.remote(ctx, shareID)
	if err != nil {
		return nil, err
	}
	since := rs.share.String("last_remote_sync")

	resp, err := s.peers.IncrementalSync(ctx, rs.baseURL, shareID, rs.token, since, domain.SyncRequest{Subscriber: s.self})
	if err != nil {
		return nil, fmt.Errorf("federation.IncrementalSync: %w", err)
	}

	res := &SyncResult{Mode: ModeIncremental, Cursor: since}
	for _, u := range resp.Data.Records {
		if err := s.replay(ctx, shareID, u, res); err != nil {
			return nil, fmt.Errorf("federation.IncrementalSync replay %s: %w", u.ID, err)
		}
		if at := u.Data.String(domain.FieldCreatedAt); at > res.Cursor {
			res.Cursor = at
		}
	}

	if res.Cursor != since {
		if _, err := s.records.Update(ctx, domain.CollectionShares, shareID, domain.Data{"last_remote_sync": res.Cursor}); err != nil {
			return nil, fmt.Errorf("federation.IncrementalSync cursor: %w", err)
		}
	}

	s.log.InfoContext(ctx, "incremental sync completed",
		slog.String("share", shareID),
		slog.Int("updates", len(resp.Data.Records)),
		slog.Int("records", res.Records),
		slog.Int("deleted", res.Deleted),
		slog.Int("skipped", res.Skipped))

	return res, nil
}

func (s *Service) replay(ctx context.Context, shareID string, u domain.SyncUpdate, res *SyncResult) error {
	collection := u.Data.String("collection")
	recordID := u.Data.String("record_id")
	payload := u.Expand.Payload

	action := u.Action()
	if action != domain.ActionDelete && payload != nil && payload.IsDeleted() {
		action = domain.ActionDelete
	}

	switch action {
	case domain.ActionCreate, domain.ActionUpdate:
		if payload == nil {
			s.log.DebugContext(ctx, "update without payload skipped",
				slog.String("collection", collection),
				slog.String("record", recordID))
			res.Skipped++
			return nil
		}
		if err := s.importRecord(ctx, payload); err != nil {
			return err
		}
		res.Records++
	case domain.ActionDelete:
		if payload != nil && !payload.IsDeleted() {
			n, err := s.detach(ctx, shareID, recordID)
			if err != nil {
				return err
			}
			res.Detached += n
			break
		}
		deleted, err := s.records.Delete(ctx, collection, recordID)
		if err != nil {
			return err
		}
		if deleted != nil {
			res.Deleted++
		}
	default:
		s.log.WarnContext(ctx, "unknown update action",
			slog.String("action", string(action)),
			slog.String("record", recordID))
		res.Skipped++
		return nil
	}

	s.log.DebugContext(ctx, "update replayed",
		slog.String("action", string(action)),
		slog.String("collection", collection),
		slog.String("record", recordID))
	return nil
}

// detach removes the record's subtree from one share's local tree. The
// record and its membership in other shares are left alone.
func (s *Service) detach(ctx context.Context, shareID, recordID string) (int, error) {
	edges, err := s.graph.EdgesByChild(ctx, recordID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range edges {
		if e.Share != shareID {
			continue
		}
		n, err := s.graph.Delete(ctx, e)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// importRecord writes a remote record under its own id. Upsert revives a
// local tombstone and routes a remote tombstone through Delete.
func (s *Service) importRecord(ctx context.Context, rec *domain.Record) error {
	if rec == nil || rec.ID() == "" {
		return domain.NewValidationError("record", "missing id")
	}
	_, err := s.records.Upsert(ctx, rec.Collection, rec.ID(), rec.Data)
	return err
}
