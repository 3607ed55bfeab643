package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level settings read from the environment. Panel
// behavior that operators change at runtime (ports, routing policy,
// telegram credentials) lives in the settings table instead.
type Config struct {
	DataDir string
	DBPath  string

	XrayExecutablePath string
	XrayConfigPath     string

	ReconcileInterval time.Duration
	StopGracePeriod   time.Duration

	Debug     bool
	LogFormat string
	LogLevel  string
}

func Load() Config {
	_ = godotenv.Load()

	dataDir := getenv("SELFRAY_DATA_DIR", "./data")

	return Config{
		DataDir: dataDir,
		DBPath:  filepath.Join(dataDir, "selfray.db"),

		XrayExecutablePath: getenv("XRAY_EXECUTABLE_PATH", "./xray/xray"),
		XrayConfigPath:     getenv("XRAY_CONFIG_PATH", filepath.Join(dataDir, "xray_config.json")),

		ReconcileInterval: time.Duration(getenvInt("RECONCILE_INTERVAL", 60)) * time.Second,
		StopGracePeriod:   time.Duration(getenvInt("XRAY_STOP_GRACE_PERIOD", 5)) * time.Second,

		Debug:     getenvBool("DEBUG", false),
		LogFormat: getenv("LOG_FORMAT", "pretty"),
		LogLevel:  getenv("LOG_LEVEL", ""),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
