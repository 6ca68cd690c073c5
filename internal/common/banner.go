package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner.
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("CRAWLSERVICE")
	b.PrintCenteredText("Hosted Web Crawl & Extraction Service")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Service URL", serviceURL, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Msg("crawlservice started")

	fmt.Printf("Configuration:\n")
	fmt.Printf("   - Badger store: %s\n", config.Storage.Badger.Path)
	fmt.Printf("   - Jobs directory: %s\n", config.Storage.JobsDir)
	fmt.Printf("   - Concurrent jobs per IP: %d\n", config.Admission.ConcurrentJobsPerIP)
	fmt.Printf("   - Default max pages: %d\n", config.Admission.DefaultMaxPages)
	fmt.Printf("\n")

	logger.Info().
		Str("badger_path", config.Storage.Badger.Path).
		Str("jobs_dir", config.Storage.JobsDir).
		Int("concurrent_jobs_per_ip", config.Admission.ConcurrentJobsPerIP).
		Msg("configuration loaded")
}

// PrintShutdownBanner displays the application shutdown banner.
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("CRAWLSERVICE")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("application shutting down")
}
