package sharing

import "github.com/heartmarshall/fedrecords/internal/domain"

func str() domain.FieldDef { return domain.FieldDef{Kind: domain.KindString} }

func rel(collection string) domain.FieldDef {
	return domain.FieldDef{Kind: domain.KindRelation, Collection: collection}
}

// SystemSchemas returns the bookkeeping collections used by sharing and
// federation. None of them is share-tracked.
func SystemSchemas() []*domain.Schema {
	return []*domain.Schema{
		{
			CollectionName: domain.CollectionServers,
			UntrackSharing: true,
			Fields: domain.Fields{
				{Name: "url", Def: str()},
				{Name: "public_key", Def: str()},
				{Name: "share_subscribers", Def: domain.FieldDef{
					Kind: domain.KindRelation, Collection: domain.CollectionShareSubscribers, Via: "subscribing_server",
				}},
			},
		},
		{
			CollectionName: domain.CollectionShares,
			UntrackSharing: true,
			Fields: domain.Fields{
				{Name: "collection", Def: str()},
				{Name: "record_id", Def: str()},
				{Name: "last_remote_sync", Def: domain.FieldDef{Kind: domain.KindDatetime}},
				{Name: "server", Def: rel(domain.CollectionServers)},
				{Name: "access_token", Def: str()},
				{Name: "subscribers", Def: domain.FieldDef{
					Kind: domain.KindRelation, Collection: domain.CollectionShareSubscribers, Via: "share",
				}},
			},
		},
		{
			CollectionName: domain.CollectionInvites,
			UntrackSharing: true,
			Fields: domain.Fields{
				{Name: "share", Def: rel(domain.CollectionShares)},
				{Name: "owner", Def: str()},
				{Name: "secret", Def: str()},
			},
		},
		{
			CollectionName: domain.CollectionShareDependencies,
			UntrackSharing: true,
			Fields: domain.Fields{
				{Name: "share", Def: rel(domain.CollectionShares)},
				{Name: "parent_id", Def: str()},
				{Name: "parent_collection", Def: str()},
				{Name: "child_id", Def: str()},
				{Name: "child_collection", Def: str()},
				{Name: "field", Def: str()},
				{Name: "relation_type", Def: str()},
			},
		},
		{
			CollectionName: domain.CollectionShareSubscribers,
			UntrackSharing: true,
			Fields: domain.Fields{
				{Name: "subscribing_server", Def: rel(domain.CollectionServers)},
				{Name: "share", Def: rel(domain.CollectionShares)},
				{Name: "last_sync", Def: domain.FieldDef{Kind: domain.KindDatetime}},
			},
		},
		{
			CollectionName: domain.CollectionShareUpdates,
			UntrackSharing: true,
			Fields: domain.Fields{
				{Name: "share", Def: rel(domain.CollectionShares)},
				{Name: "collection", Def: str()},
				{Name: "record_id", Def: str()},
				{Name: "action", Def: str()},
			},
		},
	}
}
