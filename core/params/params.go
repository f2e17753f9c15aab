package params

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// QueryParams holds the common listing parameters.
type QueryParams struct {
	PageNumber int
	PageSize   int
	SortBy     string
	SortOrder  string
	Search     string
}

func FromContext(c echo.Context) QueryParams {
	p := QueryParams{
		PageNumber: 1,
		PageSize:   20,
		SortBy:     c.QueryParam("sort_by"),
		SortOrder:  c.QueryParam("sort_order"),
		Search:     c.QueryParam("search"),
	}
	if n, err := strconv.Atoi(c.QueryParam("page_number")); err == nil && n > 0 {
		p.PageNumber = n
	}
	if n, err := strconv.Atoi(c.QueryParam("page_size")); err == nil && n > 0 && n <= 100 {
		p.PageSize = n
	}
	return p
}
