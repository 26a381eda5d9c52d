// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package pingpong

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/config"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/pingcap/tiactor/pkg/logutil"
	"github.com/pingcap/tiactor/pkg/threadpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

func play(t *testing.T, exchange bool) {
	const (
		pongs  = 4
		rounds = 20
	)
	cfg := config.GetDefaultRuntimeConfig()
	cfg.UserThreads = 2
	sys, err := actor.NewSystem(cfg)
	require.NoError(t, err)
	defer sys.Stop()

	st := newStats(pongs)
	ping := newPingActor(pongs, rounds, exchange, st)
	_, err = sys.MakeActor("ping", ping)
	require.NoError(t, err)

	select {
	case <-ping.Done():
	case <-time.After(10 * time.Second):
		require.FailNow(t, "ping-pong did not finish", "rounds: %v", st.snapshot())
	}
	for i, r := range st.snapshot() {
		require.Equal(t, int64(rounds), r, "pong %d", i)
	}

	children := sys.Children(ping.Self())
	require.Len(t, children, pongs)
	for _, child := range children {
		require.Contains(t, child.Path(), "/ping/pong-")
	}
	s := st.summary(sys.ID(), ping.mode())
	require.Equal(t, pongs, s.Pongs)
	require.Equal(t, sys.ID(), s.System)
	require.Equal(t, "80", s.TotalRounds)
}

func TestPingPongDirect(t *testing.T) {
	t.Parallel()
	play(t, false)
}

func TestPingPongExchange(t *testing.T) {
	t.Parallel()
	play(t, true)
}

func TestPingStopClosesDone(t *testing.T) {
	t.Parallel()

	cfg := config.GetDefaultRuntimeConfig()
	cfg.UserThreads = 1
	sys, err := actor.NewSystem(cfg)
	require.NoError(t, err)

	ping := newPingActor(2, 0, false, newStats(2))
	_, err = sys.MakeActor("ping", ping)
	require.NoError(t, err)
	sys.Stop()

	select {
	case <-ping.Done():
	case <-time.After(10 * time.Second):
		require.FailNow(t, "done is not closed after stop")
	}
}

func newTestCmd(args ...string) (*options, *cobra.Command, error) {
	o := newOptions()
	cmd := new(cobra.Command)
	o.addFlags(cmd)
	return o, cmd, cmd.ParseFlags(args)
}

func TestLoadConfigFromFlags(t *testing.T) {
	t.Parallel()

	o, cmd, err := newTestCmd(
		"--log-level", "debug",
		"--log-file", "/tmp/pingpong.log",
		"--user-threads", "3",
		"--pongs", "7",
		"--rounds", "100",
		"--exchange",
	)
	require.NoError(t, err)
	cfg, err := o.loadAndVerifyConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "/tmp/pingpong.log", cfg.Log.File)
	require.Equal(t, 3, cfg.UserThreads)
	require.Equal(t, 7, o.pongs)
	require.Equal(t, int64(100), o.rounds)
	require.True(t, o.exchange)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiactor.toml")
	content := `
user-threads = 5
system-threads = 2
scheduler-idle-interval = "5ms"

[log]
level = "warn"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	o, cmd, err := newTestCmd("--config", path, "--user-threads", "4")
	require.NoError(t, err)
	cfg, err := o.loadAndVerifyConfig(cmd)
	require.NoError(t, err)
	// Flags take precedence over the file.
	require.Equal(t, 4, cfg.UserThreads)
	require.Equal(t, 2, cfg.SystemThreads)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, config.TomlDuration(5*time.Millisecond), cfg.SchedulerIdleInterval)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiactor.toml")
	require.NoError(t, os.WriteFile(path, []byte("unknown-key = 1\n"), 0o644))
	o, cmd, err := newTestCmd("--config", path)
	require.NoError(t, err)
	_, err = o.loadAndVerifyConfig(cmd)
	require.ErrorContains(t, err, "unknown-key")

	o, cmd, err = newTestCmd("--pongs", "0", "--rounds", "-1")
	require.NoError(t, err)
	_, err = o.loadAndVerifyConfig(cmd)
	require.ErrorContains(t, err, "pongs must be positive")
	require.ErrorContains(t, err, "rounds must not be negative")
}

func TestStatusHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	actor.InitMetrics(registry)
	cfg := config.GetDefaultRuntimeConfig()
	cfg.UserThreads = 1
	sys, err := actor.NewSystem(cfg)
	require.NoError(t, err)
	defer sys.Stop()
	_, err = sys.MakeActor("ping", newPingActor(1, 1, false, newStats(1)))
	require.NoError(t, err)

	srv := httptest.NewServer(newStatusHandler(registry))
	defer srv.Close()
	client := srv.Client()

	resp, err := client.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "tiactor_actor_number_of_actors")

	defer func() {
		require.NoError(t, logutil.SetLogLevel("info"))
	}()
	resp, err = client.PostForm(srv.URL+"/log-level", url.Values{"level": {"debug"}})
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, zapcore.DebugLevel, log.GetLevel())

	resp, err = client.PostForm(srv.URL+"/log-level", url.Values{"level": {"verbose"}})
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/log-level")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeStatus(t *testing.T) {
	t.Parallel()

	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	registry := prometheus.NewRegistry()
	threadpool.InitMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- serveStatus(ctx, addr, registry)
	}()

	transport := &http.Transport{}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	// The address is in use.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	err = serveStatus(context.Background(), ln.Addr().String(), registry)
	require.ErrorContains(t, err, "serve status")
}
