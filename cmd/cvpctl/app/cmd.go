// SPDX-License-Identifier: MIT

// Package app implements the cvpctl command tree for talking to a running
// daemon over its HTTP API.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Options carries the connection settings shared by all subcommands.
type Options struct {
	server string
	token  string

	client *http.Client
}

// BaseURL normalises the configured server address.
func (o *Options) BaseURL() string {
	a := o.server
	if !strings.HasPrefix(a, "http://") && !strings.HasPrefix(a, "https://") {
		a = "http://" + a
	}
	return strings.TrimSuffix(a, "/")
}

// WatchURL derives the websocket endpoint from the server address.
func (o *Options) WatchURL() (string, error) {
	u, err := url.Parse(o.BaseURL())
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/api/v1/feed", scheme, u.Host), nil
}

func New() *cobra.Command {
	opts := &Options{
		client: &http.Client{Timeout: 30 * time.Second},
	}

	opts.server = os.Getenv("CVP_SERVER")
	if opts.server == "" {
		opts.server = "http://localhost:8080"
	}
	opts.token = os.Getenv("CVP_TOKEN")

	maincmd := &cobra.Command{
		Use:   "cvpctl <options> <cmd> <args>",
		Short: "control a running video analysis daemon",
		Long: `
cvpctl talks to the daemon's HTTP API: inspect pipelines, start and stop
them, query stored events and hazards, and follow the live feed.
`,
		Run:              nil,
		TraverseChildren: true,
		SilenceUsage:     true,
	}

	flags := maincmd.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", opts.server, "daemon address")
	flags.StringVarP(&opts.token, "token", "t", opts.token, "API token")

	maincmd.AddCommand(NewStatus(opts))
	maincmd.AddCommand(NewPipelines(opts))
	maincmd.AddCommand(NewStart(opts))
	maincmd.AddCommand(NewStop(opts))
	maincmd.AddCommand(NewEvents(opts))
	maincmd.AddCommand(NewHazards(opts))
	maincmd.AddCommand(NewWatch(opts))
	return maincmd
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (o *Options) getJSON(path string, out any) error {
	return o.doJSON(http.MethodGet, path, out)
}

// postJSON performs an authenticated POST and decodes the JSON response.
func (o *Options) postJSON(path string, out any) error {
	return o.doJSON(http.MethodPost, path, out)
}

func (o *Options) doJSON(method, path string, out any) error {
	req, err := http.NewRequest(method, o.BaseURL()+path, nil)
	if err != nil {
		return err
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s (%s)", e.Error, resp.Status)
		}
		return fmt.Errorf("request failed with status %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// printTable writes aligned columns, sized to their widest cell.
func printTable(w io.Writer, columns []string, rows [][]string) {
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && widths[i] < len(cell) {
				widths[i] = len(cell)
			}
		}
	}

	format := ""
	for _, width := range widths {
		format += fmt.Sprintf("%%-%ds ", width)
	}
	format = strings.TrimSuffix(format, " ")

	printRow := func(cells []string) {
		args := make([]any, len(cells))
		for i, c := range cells {
			args[i] = c
		}
		fmt.Fprintf(w, "%s\n", strings.TrimRight(fmt.Sprintf(format, args...), " "))
	}

	printRow(columns)
	for _, row := range rows {
		printRow(row)
	}
}
