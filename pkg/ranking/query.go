package ranking

import (
	"context"
	"fmt"
)

const (
	defaultQueryPageSize = 20
	maxQueryPageSize     = 100
)

// Reader serves persisted snapshot rows by precomputed rank range.
type Reader interface {
	ListRows(ctx context.Context, typ Type, categoryID *int64, rankFrom, rankTo int) ([]Row, error)
}

// Query is the read-only leaderboard surface.
type Query struct {
	reader Reader
}

// NewQuery wires a Query.
func NewQuery(reader Reader) (*Query, error) {
	if reader == nil {
		return nil, fmt.Errorf("%w: reader dependency is nil", ErrInvalidEngine)
	}
	return &Query{reader: reader}, nil
}

// Rankings returns one page of a snapshot. Per-category types require a
// category id; global types ignore it. Page numbers map onto the persisted
// rank positions, so page 2 of size 20 is ranks 21 through 40.
func (query *Query) Rankings(ctx context.Context, typ Type, categoryID *int64, page, pageSize int) ([]Row, error) {
	parsed, err := ParseType(typ.String())
	if err != nil {
		return nil, err
	}
	if parsed.PerCategory() {
		if categoryID == nil || *categoryID == 0 {
			return nil, ErrCategoryRequired
		}
	} else {
		categoryID = nil
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxQueryPageSize {
		pageSize = defaultQueryPageSize
	}
	rankFrom := (page-1)*pageSize + 1
	rankTo := page * pageSize
	return query.reader.ListRows(ctx, parsed, categoryID, rankFrom, rankTo)
}
