package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-processor/internal/config"
	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/service/common"
	"github.com/oshokin/alarm-processor/internal/service/processor"
)

// instance is one running processor.
type instance struct {
	httpURL  string
	grpcAddr string
	stop     func()
}

// reservePort returns a free localhost address.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// startProcessor runs processor.Run over dataDir until stop is called.
func startProcessor(t *testing.T, dataDir string) *instance {
	t.Helper()

	httpAddr, grpcAddr := reservePort(t), reservePort(t)
	cfgPath := filepath.Join(t.TempDir(), "alarm-processor.yaml")

	require.NoError(t, config.Save(cfgPath, &config.Config{
		HTTPAddress:        httpAddr,
		GRPCAddress:        grpcAddr,
		DataDir:            dataDir,
		Partitions:         2,
		ExpirationInterval: time.Second,
		LogLevel:           "warn",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- processor.Run(ctx, &processor.Options{ConfigPath: cfgPath})
	}()

	inst := &instance{
		httpURL:  "http://" + httpAddr,
		grpcAddr: grpcAddr,
		stop: func() {
			cancel()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("processor did not stop")
			}
		},
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(inst.httpURL + "/healthz") //nolint:noctx // Test polling.
		if err != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	return inst
}

func (i *instance) put(t *testing.T, path, body string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, i.httpURL+path, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

// state returns the published state of name, empty when unknown.
func (i *instance) state(t *testing.T, name string) domain.State {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, i.httpURL+"/alarms/"+name, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var alarm domain.EffectiveAlarm
	require.NoError(t, jsoniter.Unmarshal(body, &alarm))

	return alarm.Notification.State
}

func (i *instance) waitState(t *testing.T, name string, want domain.State) {
	t.Helper()

	require.Eventually(t, func() bool {
		return i.state(t, name) == want
	}, 10*time.Second, 20*time.Millisecond, "waiting for %s to become %s", name, want)
}

// TestProcessor_EndToEnd drives a live processor over HTTP through
// registration, activation, shelving, expiry and masking, then restarts it
// over the same data directory.
func TestProcessor_EndToEnd(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	p := startProcessor(t, dataDir)

	ctx := context.Background()

	c, err := common.Dial(ctx, p.grpcAddr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() { _ = c.Close() }()

	require.NoError(t, c.Check(ctx, processor.HealthService))

	p.put(t, "/classes/base", `{"category":"CAMAC","priority":"P3_MINOR","latching":false}`)
	p.put(t, "/registrations/parent", `{"class":"base"}`)
	p.put(t, "/registrations/alarm1", `{"class":"base","maskedBy":"parent"}`)
	p.waitState(t, "alarm1", domain.StateNormal)

	p.put(t, "/activations/alarm1", `{"note":"tripped"}`)
	p.waitState(t, "alarm1", domain.StateActive)

	expiration := time.Now().Add(2 * time.Second).UTC().Format(time.RFC3339Nano)
	p.put(t, "/alarms/alarm1/overrides/Shelved", `{"reason":"Other","expiration":"`+expiration+`"}`)
	p.waitState(t, "alarm1", domain.StateNormalContinuousShelved)

	// The expiration sweep brings the alarm back.
	p.waitState(t, "alarm1", domain.StateActive)

	p.put(t, "/activations/parent", "")
	p.waitState(t, "alarm1", domain.StateNormalMasked)

	p.stop()

	p = startProcessor(t, dataDir)
	defer p.stop()

	require.Equal(t, domain.StateNormalMasked, p.state(t, "alarm1"))
	require.Equal(t, domain.StateActive, p.state(t, "parent"))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.httpURL+"/activations/parent", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	p.waitState(t, "alarm1", domain.StateActive)
}
