package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deepcounsel/deepcounsel/config"
	"github.com/deepcounsel/deepcounsel/internal/research"
	srv "github.com/deepcounsel/deepcounsel/internal/server"
)

func askCMD() *cobra.Command {
	var (
		cfgPath      string
		userID       string
		mode         string
		tier         string
		jurisdiction string
	)
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one research question from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			ctx := context.Background()
			core, err := srv.BuildCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer core.Close()

			resp, err := core.Engine.Research(ctx, research.Request{
				Query:        strings.Join(args, " "),
				UserID:       userID,
				Mode:         mode,
				Tier:         tier,
				Jurisdiction: jurisdiction,
			})
			if err != nil {
				return err
			}

			fmt.Println(resp.Answer)
			if len(resp.Sources) > 0 {
				fmt.Println("\nSources:")
				for i, s := range resp.Sources {
					fmt.Printf("  [%d] %s — %s\n", i+1, s.Title, s.URL)
				}
			}
			fmt.Printf("\ntier=%s workflow=%s tokens=%d grounding=%.2f usage=%d/%d\n",
				resp.Tier, resp.Workflow, resp.TokensUsed, resp.GroundingRate,
				resp.Usage.Used, resp.Usage.Limit)
			return nil
		},
	}
	ask.Flags().StringVarP(&cfgPath, "config", "c", "", "config file or directory (default ./config)")
	ask.Flags().StringVar(&userID, "user", "cli", "user id to account the request against")
	ask.Flags().StringVar(&mode, "mode", "", "execution mode override (fast, balanced, thorough)")
	ask.Flags().StringVar(&tier, "tier", "", "complexity tier override (simple, light, medium, deep)")
	ask.Flags().StringVar(&jurisdiction, "jurisdiction", "", "jurisdiction qualifier for searches")
	return ask
}
