// SPDX-License-Identifier: MIT

package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type Pipelines struct {
	cmd *cobra.Command

	mainopts *Options
	output   string
}

func NewPipelines(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelines [<id>]",
		Short: "list pipelines or show one",
	}

	c := &Pipelines{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	cmd.Flags().StringVarP(&c.output, "output", "o", "", "output format (json)")
	return cmd
}

func (c *Pipelines) Run(args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("at most one pipeline id expected")
	}

	var list []pipelineStatus
	if len(args) == 1 {
		var status pipelineStatus
		if err := c.mainopts.getJSON("/api/v1/pipelines/"+args[0]+"/", &status); err != nil {
			return err
		}
		list = []pipelineStatus{status}
	} else {
		if err := c.mainopts.getJSON("/api/v1/pipelines", &list); err != nil {
			return err
		}
	}

	if c.output == "json" {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(c.cmd.OutOrStdout(), "%s\n", data)
		return nil
	}

	printPipelineTable(c.cmd.OutOrStdout(), list)
	return nil
}

func printPipelineTable(w io.Writer, list []pipelineStatus) {
	if len(list) == 0 {
		fmt.Fprintf(w, "no pipelines configured\n")
		return
	}

	rows := make([][]string, 0, len(list))
	for _, p := range list {
		rows = append(rows, []string{
			p.ID,
			p.State,
			p.Source,
			fmt.Sprintf("%.1f", p.Watcher.FPS),
			fmt.Sprintf("%d", p.Tracks),
			fmt.Sprintf("%d", p.Events),
			fmt.Sprintf("%d", p.Hazards),
		})
	}
	printTable(w, []string{"ID", "STATE", "SOURCE", "FPS", "TRACKS", "EVENTS", "HAZARDS"}, rows)
}
