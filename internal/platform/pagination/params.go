package pagination

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	domain "github.com/tryathome/orderflow/internal/domain"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// ParseRequest reads pageSize and pageToken from the query string.
func ParseRequest(r *http.Request) (domain.Pagination, error) {
	query := r.URL.Query()
	params := domain.Pagination{PageSize: DefaultPageSize, PageToken: strings.TrimSpace(query.Get("pageToken"))}

	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return domain.Pagination{}, fmt.Errorf("pageSize must be a positive integer")
		}
		if size > DefaultMaxPageSize {
			size = DefaultMaxPageSize
		}
		params.PageSize = size
	}
	if params.PageToken != "" {
		if _, err := DecodeToken(params.PageToken); err != nil {
			return domain.Pagination{}, err
		}
	}
	return params, nil
}

// Normalize clamps the page size to the supported range.
func Normalize(pager domain.Pagination) domain.Pagination {
	if pager.PageSize <= 0 {
		pager.PageSize = DefaultPageSize
	}
	if pager.PageSize > DefaultMaxPageSize {
		pager.PageSize = DefaultMaxPageSize
	}
	return pager
}
