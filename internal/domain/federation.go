package domain

// InviteGrant is returned to a peer presenting a valid invite.
type InviteGrant struct {
	Invite      *Record `json:"invite"`
	Share       *Record `json:"share"`
	AccessToken string  `json:"access_token"`
}

// SyncRequest is the body of both sync calls.
type SyncRequest struct {
	Subscriber Identity `json:"subscriber"`
}

// InitialSync carries a share's full content: the dependency edges and
// every record they point at, in edge order. Cursor is the origin's clock
// taken before the content was read; incremental syncs continue from it.
type InitialSync struct {
	Records      []*Record `json:"records"`
	Dependencies []*Record `json:"dependencies"`
	Cursor       string    `json:"cursor,omitempty"`
}

// SyncUpdate is a share update together with the current state of the
// record it refers to. Payload is nil when that record no longer exists.
type SyncUpdate struct {
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
	Data       Data       `json:"data"`
	Expand     SyncExpand `json:"expand"`
}

// SyncExpand holds the resolved payload of a SyncUpdate.
type SyncExpand struct {
	Payload *Record `json:"payload"`
}

// Action returns the update's action.
func (u SyncUpdate) Action() UpdateAction { return UpdateAction(u.Data.String("action")) }

// IncrementalSync is the response of an incremental sync call.
type IncrementalSync struct {
	Data struct {
		Records []SyncUpdate `json:"records"`
	} `json:"data"`
}
