package rsm

// dedupCache remembers, per client, the highest RequestId.Index applied so
// far and the Response that resulted — so a retried request (the client
// library is at-least-once, see package client) is answered from cache
// instead of being applied a second time (spec.md §4.4.2).
//
// Only ever touched from the replica's single goroutine.
type dedupCache struct {
	byClient map[ClientId]dedupEntry
}

type dedupEntry struct {
	lastIndex    uint64
	lastResponse Response
}

func newDedupCache() *dedupCache {
	return &dedupCache{byClient: make(map[ClientId]dedupEntry)}
}

// lookup returns the cached response for id if id has already been
// applied (id.Index <= the client's last applied index), and whether a
// response was found. A request whose index is higher than anything seen
// for that client is not a duplicate and must be applied.
//
// Note this only recognizes an exact repeat of the *latest* applied
// request; an older, already-superseded index is reported as a duplicate
// too (ok=true) but with the cached response for the latest request, not
// a per-index history — the client is guaranteed never to still be
// waiting on anything but its highest-issued request (see package
// client's single-in-flight discipline), so this is safe but would be
// wrong for a client that pipelines multiple requests concurrently.
func (d *dedupCache) lookup(id RequestId) (Response, bool) {
	entry, found := d.byClient[id.ClientId]
	if !found {
		return Response{}, false
	}
	if id.Index > entry.lastIndex {
		return Response{}, false
	}
	return entry.lastResponse, true
}

// record stores the outcome of applying id, superseding any previous
// entry for the same client.
func (d *dedupCache) record(id RequestId, response Response) {
	d.byClient[id.ClientId] = dedupEntry{lastIndex: id.Index, lastResponse: response}
}
