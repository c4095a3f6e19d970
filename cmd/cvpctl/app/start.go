// SPDX-License-Identifier: MIT

package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// runRecord mirrors the daemon's run record document.
type runRecord struct {
	RunID      string    `json:"run_id"`
	PipelineID string    `json:"pipeline_id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	State      string    `json:"state"`

	FramesIngested uint64 `json:"frames_ingested"`
	EventCount     uint64 `json:"event_count"`
	HazardCount    uint64 `json:"hazard_count"`

	Error string `json:"error"`
}

type Start struct {
	cmd *cobra.Command

	mainopts *Options
}

func NewStart(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <pipeline>",
		Short: "start a configured pipeline",
		Args:  cobra.ExactArgs(1),
	}

	c := &Start{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	return cmd
}

func (c *Start) Run(args []string) error {
	var rec runRecord
	if err := c.mainopts.postJSON("/api/v1/pipelines/"+args[0]+"/start", &rec); err != nil {
		return err
	}
	fmt.Fprintf(c.cmd.OutOrStdout(), "started pipeline %s (run %s, %q)\n", rec.PipelineID, rec.RunID, rec.Name)
	return nil
}

type Stop struct {
	cmd *cobra.Command

	mainopts *Options
}

func NewStop(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <pipeline>",
		Short: "stop a running pipeline",
		Args:  cobra.ExactArgs(1),
	}

	c := &Stop{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	return cmd
}

func (c *Stop) Run(args []string) error {
	var status pipelineStatus
	if err := c.mainopts.postJSON("/api/v1/pipelines/"+args[0]+"/stop", &status); err != nil {
		return err
	}
	fmt.Fprintf(c.cmd.OutOrStdout(), "stopped pipeline %s (events %d, hazards %d)\n",
		status.ID, status.Events, status.Hazards)
	return nil
}
