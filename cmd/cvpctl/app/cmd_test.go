// SPDX-License-Identifier: MIT

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServerMatchesDaemonListen(t *testing.T) {
	t.Setenv("CVP_SERVER", "")
	cmd := New()
	require.NotNil(t, cmd)

	// The flag default must point at the daemon's default listen port.
	flag := cmd.PersistentFlags().Lookup("server")
	require.NotNil(t, flag)
	assert.Equal(t, "http://localhost:8080", flag.DefValue)
}

func TestBaseURLNormalizesAddress(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"http://example:9000/", "http://example:9000"},
		{"example:9000", "http://example:9000"},
		{"https://example", "https://example"},
	} {
		opts := &Options{server: tc.in}
		assert.Equal(t, tc.want, opts.BaseURL(), tc.in)
	}
}

func TestWatchURLScheme(t *testing.T) {
	opts := &Options{server: "https://example:8443"}
	u, err := opts.WatchURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://example:8443/api/v1/feed", u)

	opts = &Options{server: "example:8080"}
	u, err = opts.WatchURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://example:8080/api/v1/feed", u)
}
