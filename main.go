package main

import (
	"net/http"
	_ "net/http/pprof" // enables /debug/pprof endpoints on the health mux

	"github.com/karansahani78/sattrack/cmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cmd.Execute()
}

func init() {
	// Metrics share the default mux with the pprof endpoints; the serve
	// command exposes it on the health port.
	http.Handle("/metrics", promhttp.Handler())
}
