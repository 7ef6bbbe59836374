package api

import (
	"net/http"

	"github.com/gridline/extractor/internal/pkg/httputil"
)

// PaginationParams holds parsed pagination values from query params.
type PaginationParams struct {
	Page     int
	PageSize int
	Offset   int
}

// PaginatedResponse wraps any list data with pagination metadata.
type PaginatedResponse struct {
	Data       any            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta contains pagination metadata for the response.
type PaginationMeta struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// parsePagination extracts page and page_size with defaults. maxSize caps
// the page size so a single request cannot pull the whole table.
func parsePagination(r *http.Request, defaultSize, maxSize int) PaginationParams {
	page := httputil.QueryInt(r, "page", 1)
	size := httputil.QueryInt(r, "page_size", defaultSize)

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}

	return PaginationParams{
		Page:     page,
		PageSize: size,
		Offset:   (page - 1) * size,
	}
}

// newPaginatedResponse builds a PaginatedResponse from data, params and the
// unpaginated total.
func newPaginatedResponse(data any, params PaginationParams, total int) PaginatedResponse {
	totalPages := (total + params.PageSize - 1) / params.PageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Page:       params.Page,
			PageSize:   params.PageSize,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    params.Page < totalPages,
		},
	}
}
