package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type probeResult struct {
	Path   string
	Status string
	Body   string
}

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check /healthz, /readyz and /version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, healthy := checkHealth(root)
			renderHealth(cmd.OutOrStdout(), results)
			if !healthy {
				return fmt.Errorf("server is not healthy")
			}
			return nil
		},
	}
}

func checkHealth(root *rootOptions) ([]probeResult, bool) {
	client := root.httpClient()
	healthy := true
	var results []probeResult
	for _, path := range []string{"/healthz", "/readyz", "/version"} {
		res := probeResult{Path: path}
		endpoint, err := root.endpoint(path)
		if err == nil {
			res, err = getJSON(client, endpoint, path)
		}
		if err != nil {
			res.Status = "error"
			res.Body = err.Error()
			healthy = false
		} else if res.Status != "200 OK" {
			healthy = false
		}
		results = append(results, res)
	}
	return results, healthy
}

func getJSON(client *http.Client, endpoint, path string) (probeResult, error) {
	resp, err := client.Get(endpoint)
	if err != nil {
		return probeResult{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return probeResult{}, err
	}
	var v any
	body := string(raw)
	if json.Unmarshal(raw, &v) == nil {
		if compact, err := json.Marshal(v); err == nil {
			body = string(compact)
		}
	}
	return probeResult{Path: path, Status: resp.Status, Body: body}, nil
}

func renderHealth(out io.Writer, results []probeResult) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Endpoint", "Status", "Body"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Path, r.Status, r.Body})
	}
	t.Render()
}
