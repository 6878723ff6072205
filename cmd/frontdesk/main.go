// Command frontdesk runs the front desk as a terminal chat against the same
// wiring as the API server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-frontdesk/cmd/mainconfig"
	"github.com/wolfman30/clinic-frontdesk/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/tui"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	// Logs would tear the alternate screen; send them to a file or nowhere.
	logger := logging.Discard()
	if path := os.Getenv("FRONTDESK_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = logging.NewWithWriter(cfg.LogLevel, f)
	}

	ctx := context.Background()
	frontDesk, err := bootstrap.BuildFrontDesk(ctx, cfg, bootstrap.Options{
		Registerer: prometheus.NewRegistry(),
		LoadAWS: func(ctx context.Context) (aws.Config, error) {
			return mainconfig.LoadAWSConfig(ctx, cfg)
		},
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error wiring front desk: %v\n", err)
		os.Exit(1)
	}
	defer frontDesk.Close()

	p := tea.NewProgram(tui.NewChat(ctx, frontDesk.Service, cfg.ClinicName), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running chat: %v\n", err)
		os.Exit(1)
	}
}
