package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceConfig struct {
	ICEServers []iceServer `json:"iceServers"`
	ExpiresAt  *time.Time  `json:"expiresAt,omitempty"`
}

func newICECmd(root *rootOptions) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "ice",
		Short: "Print the ICE servers the server hands to browsers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fetchICEConfig(root)
			if err != nil {
				return err
			}
			renderICEConfig(cmd.OutOrStdout(), cfg, showSecrets)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print TURN credentials instead of masking them")
	return cmd
}

func fetchICEConfig(root *rootOptions) (iceConfig, error) {
	endpoint, err := root.endpoint("/webrtc/ice")
	if err != nil {
		return iceConfig{}, err
	}
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return iceConfig{}, err
	}
	req.Header = root.header()

	resp, err := root.httpClient().Do(req)
	if err != nil {
		return iceConfig{}, fmt.Errorf("fetch ICE config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return iceConfig{}, fmt.Errorf("fetch ICE config: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var cfg iceConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return iceConfig{}, fmt.Errorf("decode ICE config: %w", err)
	}
	return cfg, nil
}

func renderICEConfig(out io.Writer, cfg iceConfig, showSecrets bool) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("ICE servers")
	t.AppendHeader(table.Row{"#", "URLs", "Username", "Credential"})
	for i, server := range cfg.ICEServers {
		cred := server.Credential
		if cred != "" && !showSecrets {
			cred = "********"
		}
		t.AppendRow(table.Row{i, strings.Join(server.URLs, "\n"), server.Username, cred})
	}
	if cfg.ExpiresAt != nil {
		t.AppendFooter(table.Row{"", "credentials expire", cfg.ExpiresAt.Local().Format(time.RFC3339), ""})
	}
	t.Render()
}
