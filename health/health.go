// Package health serves the liveness probe and expvar metrics snapshot.
package health

import (
	"expvar"
	"fmt"
	"net"
	"net/http"
)

// StartHealthServer binds addr and serves /healthz and /metrics in the
// background. The caller owns shutdown of the returned server and listener.
func StartHealthServer(addr string) (*http.Server, net.Listener, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "OK")
	})
	mux.Handle("/metrics", expvar.Handler())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	return server, listener, nil
}
