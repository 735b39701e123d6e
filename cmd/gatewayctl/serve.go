package main

import (
	"github.com/danmuck/wagate/internal/config"
	"github.com/danmuck/wagate/internal/gateway"
	"github.com/danmuck/wagate/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if cmd.Flags().Changed("log-level") {
				level = logLevel
			}
			if level != "" && !logging.SetLevel(level) {
				log.Warn().Str("level", level).Msg("gatewayctl unknown log level ignored")
			}

			svc, err := gateway.NewService(cfg)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (.toml or .yaml); defaults plus env when empty")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log level (trace|debug|info|warn|error)")
	return cmd
}
