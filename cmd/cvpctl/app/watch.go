// SPDX-License-Identifier: MIT

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/spf13/cobra"
)

type Watch struct {
	cmd *cobra.Command

	mainopts *Options
	pipeline string
}

func NewWatch(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "follow the live event and hazard feed",
	}

	c := &Watch{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	cmd.Flags().StringVarP(&c.pipeline, "pipeline", "p", "", "also stream this pipeline's events")
	return cmd
}

func (c *Watch) Run([]string) error {
	feedURL, err := c.mainopts.WatchURL()
	if err != nil {
		return err
	}

	q := url.Values{}
	if c.mainopts.token != "" {
		q.Set("access_token", c.mainopts.token)
	}
	if c.pipeline != "" {
		q.Set("pipeline", c.pipeline)
	}
	if encoded := q.Encode(); encoded != "" {
		feedURL += "?" + encoded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, _, err := ws.Dial(ctx, feedURL)
	if err != nil {
		return fmt.Errorf("connect to feed: %w", err)
	}
	defer conn.Close()

	// Close the connection when interrupted so the read loop unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	out := c.cmd.OutOrStdout()
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("feed closed: %w", err)
		}
		fmt.Fprintf(out, "%s\n", data)
	}
}
