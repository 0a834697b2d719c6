package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies selected runtime environment variables into config.
// It returns true when any value changed so callers can persist updated config.
func applyEnvOverrides(cfg *Config) bool {
	if cfg == nil {
		return false
	}

	changed := false

	setString := func(dst *string, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		if *dst != value {
			*dst = value
			changed = true
		}
	}
	setInt := func(dst *int, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}
	setBool := func(dst *bool, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}

	env := func(keys ...string) string {
		for _, key := range keys {
			if value := strings.TrimSpace(os.Getenv(key)); value != "" {
				return value
			}
		}
		return ""
	}

	setString(&cfg.LogLevel, env("WABRIDGE_LOG_LEVEL"))

	setString(&cfg.Bridge.BinaryPath, env("WABRIDGE_BRIDGE_BINARY"))
	setString(&cfg.Bridge.RPCAddress, env("WABRIDGE_RPC_ADDRESS"))
	setString(&cfg.Bridge.StorePath, env("WABRIDGE_STORE_PATH"))
	setString(&cfg.Bridge.LogLevel, env("WABRIDGE_BRIDGE_LOG_LEVEL"))
	setString(&cfg.Bridge.MonitorCron, env("WABRIDGE_MONITOR_CRON"))

	setString(&cfg.Storage.Type, env("WABRIDGE_STORAGE_TYPE"))
	setString(&cfg.Storage.FilePath, env("WABRIDGE_STORAGE_FILE_PATH"))
	setString(&cfg.Storage.DatabaseURL, env("WABRIDGE_STORAGE_DATABASE_URL"))

	setBool(&cfg.Dashboard.Enabled, env("WABRIDGE_DASHBOARD_ENABLED"))
	setString(&cfg.Dashboard.Host, env("WABRIDGE_DASHBOARD_HOST"))
	setInt(&cfg.Dashboard.Port, env("WABRIDGE_DASHBOARD_PORT"))

	return changed
}
