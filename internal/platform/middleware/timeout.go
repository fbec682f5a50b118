package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type handlerResult struct {
	err      error
	panicked bool
	value    interface{}
}

// RequestTimeout bounds every request. Store calls made by the handler see
// the deadline through the request context; on expiry the client gets 504.
// A panic in the handler is re-raised on the calling goroutine so Recovery
// still sees it.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan handlerResult, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- handlerResult{panicked: true, value: r}
					}
				}()
				done <- handlerResult{err: next(c)}
			}()

			select {
			case res := <-done:
				if res.panicked {
					panic(res.value)
				}
				return res.err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
				}
				return ctx.Err()
			}
		}
	}
}
