package banner

import (
	"fmt"
	"io"

	"chatsync/pkg/config"
)

const banner = `
 ┌─┐┬ ┬┌─┐┌┬┐┌─┐┬ ┬┌┐┌┌─┐  ┌┬┐┌─┐┌─┐┬┌─
 │  ├─┤├─┤ │ └─┐└┬┘││││    ││││ ││  ├┴┐
 └─┘┴ ┴┴ ┴ ┴ └─┘ ┴ ┘└┘└─┘  ┴ ┴└─┘└─┘┴ ┴
`

// Print writes the mock server startup banner with the effective settings.
func Print(w io.Writer, cfg *config.Config, source, version string) {
	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", cfg.Addr())
	fmt.Fprintf(w, "DB Path:  %s\n", cfg.Mock.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", source)

	fmt.Fprintln(w, "\n== Behaviour ==================================================")
	fmt.Fprintf(w, "- Rate limit: %.0f rps (burst %d)\n", cfg.Mock.RateLimit.RPS, cfg.Mock.RateLimit.Burst)
	fmt.Fprintf(w, "- Delivery status delay: %s\n", cfg.Mock.StatusDelay)
	if cfg.Mock.SimulateCron != "" {
		fmt.Fprintf(w, "- Simulated traffic: enabled (cron=%s)\n", cfg.Mock.SimulateCron)
	} else {
		fmt.Fprintln(w, "- Simulated traffic: disabled")
	}
	if cfg.Mock.Seed {
		fmt.Fprintln(w, "- Seed data: enabled")
	}
	fmt.Fprintln(w, "\nAuthenticate with `Authorization: Bearer <user id>`.")
}
