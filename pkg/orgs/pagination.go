package orgs

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// CursorRequest selects one page of a cursor listing. A nil Cursor starts
// from the newest row.
type CursorRequest struct {
	Cursor *int64
	Size   int
}

func (r CursorRequest) size() int {
	switch {
	case r.Size <= 0:
		return DefaultPageSize
	case r.Size > MaxPageSize:
		return MaxPageSize
	default:
		return r.Size
	}
}

// CursorPage is one page of a cursor listing
type CursorPage[T any] struct {
	Items      []T    `json:"items"`
	NextCursor *int64 `json:"next_cursor,omitempty"`
	HasNext    bool   `json:"has_next"`
}

// buildPage turns up to size+1 fetched rows into a page. The cursor is the
// id of the last returned row.
func buildPage[T any](rows []T, size int, idOf func(T) int64) CursorPage[T] {
	if len(rows) <= size {
		if rows == nil {
			rows = []T{}
		}
		return CursorPage[T]{Items: rows}
	}

	rows = rows[:size]
	next := idOf(rows[size-1])
	return CursorPage[T]{Items: rows, NextCursor: &next, HasNext: true}
}
