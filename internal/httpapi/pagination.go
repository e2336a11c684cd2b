package httpapi

import (
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination is the page window requested through query parameters.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Limit returns the row limit for the window.
func (p Pagination) Limit() int {
	return p.PageSize
}

// Offset returns the row offset for the window.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// GetPagination parses the page and pageSize query parameters,
// clamping them to sane bounds.
func GetPagination(r *http.Request) Pagination {
	p := Pagination{Page: 1, PageSize: defaultPageSize}

	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 {
		p.PageSize = v
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}

	return p
}
