package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner to stderr.
func PrintBanner(config *Config, logger *Logger) {
	version := GetVersion()
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	hr := lineColor + strings.Repeat("═", 60) + banner.ColorReset

	art := []string{
		` ___  _   ___ ___ ___ _____ ___    _   ___  ___`,
		`| _ \/_\ | _ \ __| _ \_   _| _ \  /_\ |   \| __|`,
		`|  _/ _ \|  _/ _||   / | | |   / / _ \| |) | _|`,
		`|_|/_/ \_\_| |___|_|_\ |_| |_|_\/_/ \_\___/|___|`,
	}

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s  Paper Trading Ledger%s\n\n%s\n\n", textColor, banner.ColorReset, hr)

	kvLines := [][2]string{
		{"Version", GetFullVersion()},
		{"Environment", config.Environment},
		{"Service URL", serviceURL},
		{"Ledger", config.Storage.Ledger.Path},
		{"Charts", config.Storage.Charts.Path},
		{"Identity", config.Clients.Identity.BaseURL},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-14s %s%s\n", textColor, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)

	logger.Info().
		Str("version", version).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Str("ledger_path", config.Storage.Ledger.Path).
		Msg("Application started")
}

// PrintShutdownBanner displays the application shutdown banner to stderr.
func PrintShutdownBanner(logger *Logger) {
	hr := banner.ColorCyan + strings.Repeat("═", 36) + banner.ColorReset
	fmt.Fprintf(os.Stderr, "\n%s\n%s  PAPERTRADE SHUTTING DOWN%s\n%s\n\n",
		hr, banner.ColorBold+banner.ColorWhite, banner.ColorReset, hr)

	logger.Info().Msg("Application shutting down")
}
