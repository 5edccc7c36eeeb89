package middleware

// identity.go holds the context keys JWTAuth fills and the helpers that read
// them back. When nobody is authenticated the rate limiter keys by "anon".

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/filevault/internal/model"
)

const (
	ctxUser   = "user"
	ctxUserID = "user_id"
)

// CurrentUser returns the authenticated user stored by JWTAuth.
func CurrentUser(c echo.Context) (*model.User, bool) {
	u, ok := c.Get(ctxUser).(*model.User)
	return u, ok && u != nil
}

func setUser(c echo.Context, u *model.User) {
	c.Set(ctxUser, u)
	c.Set(ctxUserID, strconv.FormatUint(u.ID, 10))
}

func currentUserID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
