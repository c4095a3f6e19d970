// SPDX-License-Identifier: MIT

package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// pipelineStatus mirrors the daemon's pipeline status document.
type pipelineStatus struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
	IngestFPS float64   `json:"ingest_fps"`
	Watcher   struct {
		Detector  string  `json:"detector"`
		Processed uint64  `json:"processed"`
		Skipped   uint64  `json:"skipped"`
		Errors    uint64  `json:"errors"`
		FPS       float64 `json:"fps"`
	} `json:"watcher"`
	Tracks    int    `json:"tracks"`
	Events    uint64 `json:"events"`
	Hazards   uint64 `json:"hazards"`
	LastError string `json:"last_error"`
}

type daemonStatus struct {
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Pipelines []pipelineStatus `json:"pipelines"`
}

type Status struct {
	cmd *cobra.Command

	mainopts *Options
	output   string
}

func NewStatus(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show daemon status",
	}

	c := &Status{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	cmd.Flags().StringVarP(&c.output, "output", "o", "", "output format (json)")
	return cmd
}

func (c *Status) Run([]string) error {
	var status daemonStatus
	if err := c.mainopts.getJSON("/api/v1/status", &status); err != nil {
		return err
	}

	if c.output == "json" {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(c.cmd.OutOrStdout(), "%s\n", data)
		return nil
	}

	out := c.cmd.OutOrStdout()
	fmt.Fprintf(out, "Version: %s\n", status.Version)
	fmt.Fprintf(out, "Uptime:  %s\n", status.Uptime)
	fmt.Fprintf(out, "Pipelines:\n")
	printPipelineTable(out, status.Pipelines)
	return nil
}
