package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startBroker(t *testing.T, port int) *mochi.Server {
	t.Helper()
	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook() error = %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("main%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func gatewayConfig(t *testing.T, port int) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	return writeConfig(t, fmt.Sprintf(`
gateway:
  config_wait: 1
  heartbeat_interval: 0

devices:
  list: '[{"id":"porch","type":"switch","status_topic":"stat/porch/POWER","cmd_topic":"cmnd/porch/POWER"}]'

database:
  path: %q

mqtt:
  broker:
    host: "127.0.0.1"
    port: %d
    client_id: "mqttgateway-main-test"
  reconnect:
    initial_delay: 1
  connect_timeout: 2

api:
  enabled: false

logging:
  level: error
  format: text
`, dbPath, port))
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("MQTTGW_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("MQTTGW_CONFIG", expected)
	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.MQTT.Broker.Port != 1884 || cfg.Gateway.ControllerAddress != "mqctrl" {
		t.Errorf("defaults not applied: %+v", cfg.MQTT.Broker)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "gateway: ["},
		{"invalid values", "gateway:\n  config_wait: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("loadConfig() should fail")
			}
		})
	}
}

// TestRun_InvalidDatabasePath verifies run fails when the database cannot open.
func TestRun_InvalidDatabasePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MQTTGW_CONFIG", writeConfig(t, ""))
	t.Setenv("MQTTGW_DATABASE_PATH", filepath.Join(blocker, "sub", "gateway.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the database directory cannot be created")
	}
}

// TestRun_StartsAndQueriesDevices runs the whole gateway against an
// in-process broker and waits for the start-up query of the declared switch.
func TestRun_StartsAndQueriesDevices(t *testing.T) {
	port := freePort(t)
	broker := startBroker(t, port)

	queried := make(chan struct{}, 1)
	err := broker.Subscribe("cmnd/porch/POWER", 1, func(_ *mochi.Client, _ packets.Subscription, _ packets.Packet) {
		select {
		case queried <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("broker.Subscribe() error = %v", err)
	}

	t.Setenv("MQTTGW_CONFIG", gatewayConfig(t, port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case <-queried:
	case err := <-done:
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("switch was never queried")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not stop after cancel")
	}
}

// TestRun_CancelledWhileWaitingForBroker verifies shutdown during the
// broker wait is clean.
func TestRun_CancelledWhileWaitingForBroker(t *testing.T) {
	t.Setenv("MQTTGW_CONFIG", gatewayConfig(t, freePort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Errorf("run() error = %v, want nil on cancellation", err)
	}
}
