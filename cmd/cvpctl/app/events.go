// SPDX-License-Identifier: MIT

package app

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// eventDoc mirrors the daemon's event document.
type eventDoc struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipeline_id"`
	Detector   string    `json:"detector"`
	Kind       string    `json:"kind"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Detections []struct {
		Class string  `json:"class"`
		Score float64 `json:"score"`
	} `json:"detections"`
}

// hazardDoc mirrors the daemon's hazard document.
type hazardDoc struct {
	PipelineID string    `json:"pipeline_id"`
	ID         string    `json:"id"`
	Classes    [2]string `json:"classes"`
	Distance   float64   `json:"distance"`
	Predicted  bool      `json:"predicted"`
	Timestamp  time.Time `json:"timestamp"`
	Seq        uint64    `json:"seq"`
}

type Events struct {
	cmd *cobra.Command

	mainopts *Options
	pipeline string
	limit    int
	output   string
}

func NewEvents(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "list recent detection events",
	}

	c := &Events{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	flags := cmd.Flags()
	flags.StringVarP(&c.pipeline, "pipeline", "p", "", "restrict to one pipeline")
	flags.IntVarP(&c.limit, "limit", "l", 50, "maximum number of events")
	flags.StringVarP(&c.output, "output", "o", "", "output format (json)")
	return cmd
}

func (c *Events) Run([]string) error {
	q := url.Values{}
	if c.pipeline != "" {
		q.Set("pipeline", c.pipeline)
	}
	if c.limit > 0 {
		q.Set("limit", strconv.Itoa(c.limit))
	}

	var events []eventDoc
	if err := c.mainopts.getJSON("/api/v1/events?"+q.Encode(), &events); err != nil {
		return err
	}

	if c.output == "json" {
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(c.cmd.OutOrStdout(), "%s\n", data)
		return nil
	}

	if len(events) == 0 {
		fmt.Fprintf(c.cmd.OutOrStdout(), "no events\n")
		return nil
	}

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		classes := make([]string, 0, len(ev.Detections))
		for _, d := range ev.Detections {
			classes = append(classes, d.Class)
		}
		rows = append(rows, []string{
			ev.Timestamp.Local().Format(time.RFC3339),
			ev.PipelineID,
			ev.Detector,
			ev.Kind,
			strconv.FormatUint(ev.Seq, 10),
			strings.Join(classes, ","),
		})
	}
	printTable(c.cmd.OutOrStdout(), []string{"TIME", "PIPELINE", "DETECTOR", "KIND", "SEQ", "CLASSES"}, rows)
	return nil
}

type Hazards struct {
	cmd *cobra.Command

	mainopts *Options
	pipeline string
	limit    int
	output   string
}

func NewHazards(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hazards",
		Short: "list recent proximity hazards",
	}

	c := &Hazards{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	flags := cmd.Flags()
	flags.StringVarP(&c.pipeline, "pipeline", "p", "", "restrict to one pipeline")
	flags.IntVarP(&c.limit, "limit", "l", 50, "maximum number of hazards")
	flags.StringVarP(&c.output, "output", "o", "", "output format (json)")
	return cmd
}

func (c *Hazards) Run([]string) error {
	q := url.Values{}
	if c.pipeline != "" {
		q.Set("pipeline", c.pipeline)
	}
	if c.limit > 0 {
		q.Set("limit", strconv.Itoa(c.limit))
	}

	var hazards []hazardDoc
	if err := c.mainopts.getJSON("/api/v1/hazards?"+q.Encode(), &hazards); err != nil {
		return err
	}

	if c.output == "json" {
		data, err := json.MarshalIndent(hazards, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(c.cmd.OutOrStdout(), "%s\n", data)
		return nil
	}

	if len(hazards) == 0 {
		fmt.Fprintf(c.cmd.OutOrStdout(), "no hazards\n")
		return nil
	}

	rows := make([][]string, 0, len(hazards))
	for _, hz := range hazards {
		predicted := ""
		if hz.Predicted {
			predicted = "predicted"
		}
		rows = append(rows, []string{
			hz.Timestamp.Local().Format(time.RFC3339),
			hz.PipelineID,
			hz.Classes[0] + "|" + hz.Classes[1],
			fmt.Sprintf("%.3f", hz.Distance),
			predicted,
		})
	}
	printTable(c.cmd.OutOrStdout(), []string{"TIME", "PIPELINE", "PAIR", "DISTANCE", "FLAGS"}, rows)
	return nil
}
