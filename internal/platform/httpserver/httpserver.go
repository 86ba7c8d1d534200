// Package httpserver builds the lookup API's http.Server.
package httpserver

import (
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	idleTimeout       = 2 * time.Minute
	writeTimeoutSlack = 30 * time.Second
)

// WriteTimeoutFor returns a write timeout long enough for the slowest
// synchronous lookup, whose bound is the larger of the two lookup timeouts.
func WriteTimeoutFor(perAdapter, outer time.Duration) time.Duration {
	return max(perAdapter, outer) + writeTimeoutSlack
}

// New builds the server. writeTimeout must cover the longest synchronous lookup.
func New(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}
