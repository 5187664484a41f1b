package callback

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/httplog/v3"
)

type queryKey struct{}

// Query returns the request's query parameters. The logging chain strips the
// query from the request itself, so handlers must read it from here.
func Query(r *http.Request) url.Values {
	if q, ok := r.Context().Value(queryKey{}).(url.Values); ok {
		return q
	}
	return r.URL.Query()
}

// redactQuery moves the query string into the request context so that neither
// the request logger nor anything downstream sees the authorization code in the URL.
func redactQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		ctx := context.WithValue(r.Context(), queryKey{}, query)

		redacted := r.Clone(ctx)
		redacted.URL.RawQuery = ""
		redacted.RequestURI = redacted.URL.RequestURI()

		next.ServeHTTP(w, redacted)
	})
}

// Recovery turns a handler panic into an error page. The login is still
// resolved by the timeout or by Cancel.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				RenderError(w, http.StatusInternalServerError, "Authentication failed",
					"The login could not be completed. Return to the terminal for details.")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Logging logs each redirect with method, path, status and duration. Headers and
// bodies stay out of the log; the query is already stripped by redactQuery.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		LogRequestHeaders:  []string{"User-Agent"},
		LogResponseHeaders: []string{},

		// Panics are recovered by Recovery, which sits inside this logger and
		// still lets it record the 500.
		RecoverPanics: false,
	})
}

func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
