package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"algoedge/pkg/utils"
)

// Recovery перехватывает panic в обработчиках.
//
// Паника логируется со stack trace, клиент получает 500 без деталей.
// http.ErrAbortHandler пробрасывается дальше: это штатный обрыв ответа.
func Recovery(logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("panic in handler",
					utils.String("panic", fmt.Sprint(rec)),
					utils.String("path", r.URL.Path),
					utils.RequestID(RequestIDFromContext(r.Context())),
					utils.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
