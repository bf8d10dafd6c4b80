package httpserver

const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 100
	MaxPage         = 1_000_000
)

// PageQuery binds ?page= and ?page_size= on list endpoints.
type PageQuery struct {
	Page     int `query:"page"      json:"-" validate:"gte=0,lte=1000000"`
	PageSize int `query:"page_size" json:"-" validate:"gte=0"`
}

// Normalize clamps the query to sane bounds and returns the row offset.
func (q *PageQuery) Normalize() int {
	switch {
	case q.Page < 1:
		q.Page = DefaultPage
	case q.Page > MaxPage:
		q.Page = MaxPage
	}

	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}

	return (q.Page - 1) * q.PageSize
}

func (q PageQuery) Pagination(totalCount int) *Pagination {
	totalPages := 0
	if q.PageSize > 0 {
		totalPages = (totalCount + q.PageSize - 1) / q.PageSize
	}

	return &Pagination{
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	}
}
