// Package pagination computes cursor-addressed windows over ordered collections.
//
// Everything here is pure: callers read a consistent, ascending snapshot from
// storage and hand it to Paginate together with the client's Request.
package pagination

// Edge is one paginated item together with its cursor.
type Edge[T any] struct {
	Cursor Cursor `json:"cursor"`
	Node   T      `json:"node"`
}

// PageInfo describes navigability beyond the returned window.
// StartCursor and EndCursor always describe the full collection, not the window.
type PageInfo struct {
	HasNextPage     bool    `json:"has_next_page"`
	HasPreviousPage bool    `json:"has_previous_page"`
	StartCursor     *Cursor `json:"start_cursor"`
	EndCursor       *Cursor `json:"end_cursor"`
}

// Connection is the result of paginating a collection.
type Connection[T any] struct {
	Edges    []Edge[T] `json:"edges"`
	PageInfo PageInfo  `json:"page_info"`
}

// Collect pairs nodes with their cursors. nodes must already be ascending by cursor.
func Collect[T any](nodes []T, cursorOf func(T) Cursor) []Edge[T] {
	out := make([]Edge[T], len(nodes))
	for i, n := range nodes {
		out[i] = Edge[T]{Cursor: cursorOf(n), Node: n}
	}
	return out
}

// MapConnection converts the node type of c, keeping cursors and page info.
func MapConnection[T, U any](c Connection[T], fn func(T) U) Connection[U] {
	out := Connection[U]{Edges: make([]Edge[U], len(c.Edges)), PageInfo: c.PageInfo}
	for i, e := range c.Edges {
		out.Edges[i] = Edge[U]{Cursor: e.Cursor, Node: fn(e.Node)}
	}
	return out
}

// Paginate returns the window of collection selected by req.
//
// collection must be sorted ascending by cursor and may be empty. Cursors in
// req need not exist in collection: a cursor whose item was deleted still
// partitions the collection at its original position.
func Paginate[T any](collection []Edge[T], req Request) Connection[T] {
	info := PageInfo{}
	if n := len(collection); n > 0 {
		start, end := collection[0].Cursor, collection[n-1].Cursor
		info.StartCursor, info.EndCursor = &start, &end
	}

	var window []Edge[T]
	if req.Direction() == DirectionBackward {
		filtered := collection
		if before := req.Cursor(); before != nil {
			filtered = collection[:firstAtOrAfter(collection, *before)]
		}
		window = takeLast(filtered, req.Limit())
		info.HasPreviousPage = len(window) < len(filtered)
		if before := req.Cursor(); before != nil && info.EndCursor != nil {
			info.HasNextPage = *info.EndCursor > *before
		}
	} else {
		filtered := collection
		if after := req.Cursor(); after != nil {
			filtered = collection[firstAfter(collection, *after):]
			info.HasPreviousPage = len(filtered) < len(collection)
		}
		window = takeFirst(filtered, req.Limit())
		info.HasNextPage = len(window) < len(filtered)
	}

	edges := make([]Edge[T], len(window))
	copy(edges, window)
	return Connection[T]{Edges: edges, PageInfo: info}
}

// firstAfter returns the index of the first edge with cursor > c.
func firstAfter[T any](s []Edge[T], c Cursor) int {
	lo, hi := 0, len(s)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if s[mid].Cursor <= c {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// firstAtOrAfter returns the index of the first edge with cursor >= c.
func firstAtOrAfter[T any](s []Edge[T], c Cursor) int {
	lo, hi := 0, len(s)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if s[mid].Cursor < c {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func takeFirst[T any](s []Edge[T], limit *int) []Edge[T] {
	if limit == nil || *limit >= len(s) {
		return s
	}
	if *limit <= 0 {
		return s[:0]
	}
	return s[:*limit]
}

func takeLast[T any](s []Edge[T], limit *int) []Edge[T] {
	if limit == nil || *limit >= len(s) {
		return s
	}
	if *limit <= 0 {
		return s[len(s):]
	}
	return s[len(s)-*limit:]
}
