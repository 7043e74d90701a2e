package models

import "math"

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 500
)

// PageRequest is 1-based offset pagination.
type PageRequest struct {
	Page  int `json:"page" form:"page"`
	Limit int `json:"limit" form:"limit"`
}

func (p PageRequest) normalized() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	// keep Offset from overflowing
	if maxPage := math.MaxInt/p.Limit + 1; p.Page > maxPage {
		p.Page = maxPage
	}
	return p
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

type Page[T any] struct {
	Items        []T   `json:"items"`
	Page         int   `json:"page"`
	Limit        int   `json:"limit"`
	TotalRecords int64 `json:"total_records"`
	TotalPages   int   `json:"total_pages"`
}

// SetPaginationStats fills the totals from the unpaginated count.
func (p *Page[T]) SetPaginationStats(totalRecords int64) {
	p.TotalRecords = totalRecords
	if totalRecords > 0 && p.Limit > 0 {
		p.TotalPages = int(math.Ceil(float64(totalRecords) / float64(p.Limit)))
	} else {
		p.TotalPages = 0
	}
}

func (p *Page[T]) HasNextPage() bool {
	return p.Page < p.TotalPages
}
