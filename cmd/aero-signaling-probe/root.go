package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8080"

type rootOptions struct {
	server  string
	origin  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "aero-signaling-probe",
		Short: "Probe an aero-webrtc-call-signaling server",
		Long: `aero-signaling-probe talks to a call signaling server the way a browser would.

Examples:
  aero-signaling-probe health
  aero-signaling-probe ice --server https://call.example
  aero-signaling-probe join abc --msgpack --for 30s`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&opts.server, "server", "s", defaultServer, "Base URL of the signaling server")
	cmd.PersistentFlags().StringVar(&opts.origin, "origin", "", "Origin header to send (defaults to none)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout for connecting and HTTP requests")

	cmd.AddCommand(newJoinCmd(opts), newICECmd(opts), newHealthCmd(opts))
	return cmd
}

func (o *rootOptions) header() http.Header {
	h := http.Header{}
	if o.origin != "" {
		h.Set("Origin", o.origin)
	}
	return h
}

func (o *rootOptions) httpClient() *http.Client {
	return &http.Client{Timeout: o.timeout}
}

// endpoint resolves path against the server base URL.
func (o *rootOptions) endpoint(path string) (string, error) {
	u, err := parseServer(o.server)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// socketURL maps the server base URL to the WebSocket signaling endpoint.
func (o *rootOptions) socketURL() (string, error) {
	u, err := parseServer(o.server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	return u.String(), nil
}

func parseServer(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("--server is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --server %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid --server %q: expected http(s):// or ws(s)://", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid --server %q: missing host", raw)
	}
	u.RawQuery, u.Fragment = "", ""
	return u, nil
}
