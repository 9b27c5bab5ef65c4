package config

import (
	"os"
	"testing"
)

func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"SIMULCAST_RELAY_URL", "SIMULCAST_RELAY_ROOM", "SIMULCAST_CLIENT_SOCK",
		"SIMULCAST_BIND_ADDRESS", "SIMULCAST_BIND_PORT", "SIMULCAST_REPO_URL",
		"SIMULCAST_LOG_LEVEL", "SIMULCAST_DEV", "SIMULCAST_RELAY_REDIS_ADDR",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if v := orig[k]; v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := Load(nil, "")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RelayRoom != defaultRelayRoom {
		t.Errorf("expected default relay room %q, got %q", defaultRelayRoom, cfg.RelayRoom)
	}
	if cfg.BindAddress != defaultBindAddress {
		t.Errorf("expected default bind address %q, got %q", defaultBindAddress, cfg.BindAddress)
	}
	if cfg.BindPort != defaultBindPort {
		t.Errorf("expected default bind port %d, got %d", defaultBindPort, cfg.BindPort)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SIMULCAST_RELAY_ROOM", "custom-room")
	os.Setenv("SIMULCAST_BIND_PORT", "9999")

	cfg, err := Load(nil, "")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RelayRoom != "custom-room" {
		t.Errorf("expected relay room %q, got %q", "custom-room", cfg.RelayRoom)
	}
	if cfg.BindPort != 9999 {
		t.Errorf("expected bind port 9999, got %d", cfg.BindPort)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SIMULCAST_BIND_PORT", "not-a-port")

	if _, err := Load(nil, ""); err == nil {
		t.Fatal("expected an error for an invalid bind port")
	}
}

func TestDotenvSearchPaths_Order(t *testing.T) {
	paths := DotenvSearchPaths("/opt/player/scripts")
	if len(paths) < 2 {
		t.Fatalf("expected at least two candidate paths, got %d", len(paths))
	}
	if paths[0] != "/opt/player/scripts/simulcast-mpv.env" {
		t.Errorf("expected the player scripts directory to be searched first, got %q", paths[0])
	}
	if paths[len(paths)-1] != "simulcast-mpv.env" {
		t.Errorf("expected cwd to be searched last, got %q", paths[len(paths)-1])
	}
}
