package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"owlsearch/internal/httpapi"
	"owlsearch/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (embed, build_index, search_functions_simple, get_class_stats, ...)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to the configured HTTP address)")
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = eng.cfg.HTTPAddr
	}

	h := httpapi.NewHandler(eng.builder, eng.enc)
	logging.Default().Info("listening", "addr", addr)
	return http.ListenAndServe(addr, h.Router())
}
