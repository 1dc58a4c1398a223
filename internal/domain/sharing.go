package domain

// System collections used by the sharing machinery. All of them are
// exempt from share tracking.
const (
	CollectionShares            = "shares"
	CollectionInvites           = "invites"
	CollectionShareDependencies = "share_dependencies"
	CollectionShareUpdates      = "share_updates"
	CollectionShareSubscribers  = "share_subscribers"
	CollectionServers           = "servers"
)

// IsSystemCollection reports whether name is one of the sharing
// collections. Only the sharing machinery writes to them.
func IsSystemCollection(name string) bool {
	switch name {
	case CollectionShares, CollectionInvites, CollectionShareDependencies,
		CollectionShareUpdates, CollectionShareSubscribers, CollectionServers:
		return true
	}
	return false
}

// SecretFields lists the fields of a system collection that are never
// served over the record API.
func SecretFields(collection string) []string {
	switch collection {
	case CollectionShares:
		return []string{"access_token"}
	case CollectionInvites:
		return []string{"secret"}
	}
	return nil
}

// RelationType tells how a dependency edge was discovered.
type RelationType string

const (
	RelationField RelationType = "field"
	RelationVia   RelationType = "via"
)

// UpdateAction is the kind of change recorded in a share update.
type UpdateAction string

const (
	ActionCreate UpdateAction = "create"
	ActionUpdate UpdateAction = "update"
	ActionDelete UpdateAction = "delete"
)

// IsValid reports whether a is a known action.
func (a UpdateAction) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// RootField is the field name of the edge attaching a share's root record
// to the share itself.
const RootField = "child_id"

// Identity describes a server to its peers. ID is the host part of URL.
type Identity struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	PublicKey string `json:"public_key"`
	Host      string `json:"host"`
}

// Data renders the identity as a servers record.
func (i Identity) Data() Data {
	return Data{
		FieldID:      i.ID,
		"url":        i.URL,
		"public_key": i.PublicKey,
	}
}
