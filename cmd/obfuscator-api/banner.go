package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/polisai/obfuscator-api/pkg/config"
	"github.com/polisai/obfuscator-api/pkg/preset"
)

var (
	bold  = color.New(color.Bold)
	green = color.New(color.FgGreen)
	cyan  = color.New(color.FgCyan)
	dim   = color.New(color.Faint)
)

// printBanner writes the listening address and route table.
func printBanner(w io.Writer, cfg *config.Config, routes []string) {
	_, _ = bold.Fprintf(w, "Prometheus Obfuscator API %s\n", version)
	fmt.Fprintf(w, "  Listening on %s\n", green.Sprintf("http://localhost:%d", cfg.Server.Port))
	fmt.Fprintln(w, "  Routes:")
	for _, route := range routes {
		method, path, ok := strings.Cut(route, " ")
		if !ok {
			method, path = "ANY", route
		}
		fmt.Fprintf(w, "    %s %s\n", cyan.Sprintf("%-4s", method), path)
	}
	_, _ = dim.Fprintf(w, "  Presets: %s | max source %d bytes | engine timeout %s\n",
		preset.List(), cfg.Limits.MaxSourceBytes, cfg.Engine.Timeout)
}
