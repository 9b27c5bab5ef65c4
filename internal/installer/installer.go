// Package installer implements the installer subcommand (no-args CLI
// invocation) per SPEC_FULL.md §4.11: copy the running binary into the
// player's scripts directory, write the Lua launcher stub the player-side
// script uses to spawn the client adapter, and drop a commented .env
// template covering every variable in spec.md §6.
//
// No example repo in the corpus ships a binary installer; this package is
// built from the CLI/status-line conventions observed across the corpus
// rather than adapted from one specific file (named in DESIGN.md).
package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"github.com/rtldg/simulcast-mpv/internal/errs"
	"github.com/rtldg/simulcast-mpv/internal/logging"
)

const (
	launcherScriptName = "simulcast-mpv-launcher.lua"
	envTemplateName    = "simulcast-mpv.env"
	binaryBaseName     = "simulcast-mpv"
)

// Result reports where the installer placed each artifact, per
// SPEC_FULL.md §3's InstallResult entity.
type Result struct {
	BinaryPath string
	ScriptPath string
	EnvPath    string
}

// ScriptsDir returns mpv's per-user scripts directory for the current
// platform, creating it if it doesn't already exist.
func ScriptsDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("installer: %w: %%APPDATA%% is not set", errs.ErrConfig)
		}
		base = filepath.Join(appData, "mpv", "scripts")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("installer: %w: %v", errs.ErrConfig, err)
		}
		base = filepath.Join(home, ".config", "mpv", "scripts")
	default:
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("installer: %w: %v", errs.ErrConfig, err)
		}
		base = filepath.Join(cfgDir, "mpv", "scripts")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("installer: creating scripts directory: %w", err)
	}
	return base, nil
}

// Install copies the running executable into scriptsDir, writes the Lua
// launcher stub alongside it, and drops an .env template next to both.
func Install(ctx context.Context, scriptsDir string) (*Result, error) {
	selfPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("installer: locating running binary: %w", err)
	}
	selfPath, err = filepath.EvalSymlinks(selfPath)
	if err != nil {
		return nil, fmt.Errorf("installer: resolving running binary: %w", err)
	}

	binName := binaryBaseName
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	destBinary := filepath.Join(scriptsDir, binName)

	if err := copyExecutable(selfPath, destBinary); err != nil {
		return nil, fmt.Errorf("installer: copying binary: %w", err)
	}
	logging.Info(ctx, "installed binary", zap.String("path", destBinary))

	scriptPath := filepath.Join(scriptsDir, launcherScriptName)
	if err := os.WriteFile(scriptPath, []byte(launcherScript(binName)), 0o644); err != nil {
		return nil, fmt.Errorf("installer: writing launcher script: %w", err)
	}
	logging.Info(ctx, "wrote launcher script", zap.String("path", scriptPath))

	envPath := filepath.Join(scriptsDir, envTemplateName)
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		if err := os.WriteFile(envPath, []byte(envTemplate), 0o644); err != nil {
			return nil, fmt.Errorf("installer: writing env template: %w", err)
		}
		logging.Info(ctx, "wrote env template", zap.String("path", envPath))
	} else {
		logging.Info(ctx, "env template already present, leaving it untouched", zap.String("path", envPath))
	}

	return &Result{BinaryPath: destBinary, ScriptPath: scriptPath, EnvPath: envPath}, nil
}

// copyExecutable copies src to dst and marks dst executable. It writes to
// a temp file in the destination directory first and renames into place,
// so a partially-written binary never shadows a working install.
func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".simulcast-mpv-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}

// launcherScript produces the Lua stub the player loads on startup: it
// spawns the client adapter as a detached subprocess pointed at the
// player's own IPC socket, per spec.md §2's "thin scripted plug-in" role.
func launcherScript(binName string) string {
	return fmt.Sprintf(`-- simulcast-mpv launcher, written by the installer. Do not edit by hand;
-- re-running the installer overwrites this file.
local utils = require 'mp.utils'

local function ipc_path()
	return mp.get_property("options/input-ipc-server", "")
end

local function script_dir()
	local info = debug.getinfo(1, "S")
	return info.source:match("@?(.*/)") or "./"
end

local function spawn_adapter()
	local sock = ipc_path()
	if sock == "" then
		mp.msg.warn("simulcast-mpv: input-ipc-server is not set, adapter not started")
		return
	end
	local bin = script_dir() .. %q
	mp.command_native_async({
		name = "subprocess",
		playback_only = false,
		detach = true,
		args = { bin, "client", "--client-sock", sock },
	}, function(success, result, error)
		if not success then
			mp.msg.error("simulcast-mpv: failed to start client adapter: " .. tostring(error))
		end
	end)
end

mp.register_event("file-loaded", spawn_adapter)
`, binName)
}

// envTemplate lists every SIMULCAST_* variable from spec.md §6, commented
// out with its default, so operators can uncomment and edit in place.
const envTemplate = `# simulcast-mpv configuration. Uncomment and edit any line below; the
# installer will not overwrite this file once it exists.

# SIMULCAST_RELAY_URL=wss://relay.simulcast-mpv.example.org
# SIMULCAST_RELAY_ROOM=abcd1234
# SIMULCAST_CLIENT_SOCK=
# SIMULCAST_BIND_ADDRESS=127.0.0.1
# SIMULCAST_BIND_PORT=30777
# SIMULCAST_REPO_URL=https://github.com/rtldg/simulcast-mpv
# SIMULCAST_LOG_LEVEL=info
# SIMULCAST_DEV=false
# SIMULCAST_RELAY_REDIS_ADDR=
# SIMULCAST_RELAY_ALLOWED_ORIGINS=
# SIMULCAST_RELAY_RATE_LIMIT_WS=20-M
`
