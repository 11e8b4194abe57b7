package main

import (
	"github.com/spf13/cobra"

	"github.com/deepcounsel/deepcounsel/config"
	srv "github.com/deepcounsel/deepcounsel/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return srv.Run(cfg)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file or directory (default ./config)")
	return serve
}
