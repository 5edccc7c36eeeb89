package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// parseID reads the numeric :id path parameter.
func parseID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// parsePage reads skip and limit. Missing values default to 0 and the
// service's page size; clamping happens in the service.
func parsePage(c echo.Context) (skip, limit int, ok bool) {
	var err error
	if s := c.QueryParam("skip"); s != "" {
		if skip, err = strconv.Atoi(s); err != nil || skip < 0 {
			return 0, 0, false
		}
	}
	if s := c.QueryParam("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return 0, 0, false
		}
	}
	return skip, limit, true
}
