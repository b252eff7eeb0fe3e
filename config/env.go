package config

import "os"

// Environment variable names read by ApplyEnv.
const (
	EnvRequireAuth  = "SIERTRI_REQUIRE_AUTH"
	EnvVPNInterface = "SIERTRI_VPN_INTERFACE"
	EnvSOCKS5Proxy  = "SIERTRI_SOCKS5_PROXY"
)

// ApplyEnv overlays process environment variables onto cfg. It runs after
// the config file and before command-line flags, so a flag still wins over
// an inherited environment variable, matching the rest of Load's
// file-then-flags precedence.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvRequireAuth); ok {
		cfg.P2P.RequireAuth = parseBool(v)
	}
	if v := os.Getenv(EnvVPNInterface); v != "" {
		cfg.P2P.VPNInterface = v
	}
	if v := os.Getenv(EnvSOCKS5Proxy); v != "" {
		cfg.P2P.SOCKS5Proxy = v
	}
}
