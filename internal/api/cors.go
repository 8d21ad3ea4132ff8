package api

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// DefaultAllowedOrigin is the Vite dev server the canvas frontend runs on.
const DefaultAllowedOrigin = "http://localhost:5173"

var corsMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

type corsLogger struct {
	logger *zap.SugaredLogger
}

func (l corsLogger) Printf(format string, args ...any) {
	l.logger.Debugf(format, args...)
}

// newCORS allows every method and header from the given origins, with
// credentials. Browsers refuse credentials alongside a "*" origin, so a
// wildcard entry turns credentials off.
func newCORS(origins []string, logger *zap.Logger, debug bool) *cors.Cors {
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   corsMethods,
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Cache"},
		AllowCredentials: !slices.Contains(origins, "*"),
	}
	if debug && logger != nil {
		opts.Logger = corsLogger{logger: logger.Named("cors").Sugar()}
	}
	return cors.New(opts)
}
