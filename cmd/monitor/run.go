package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pktcore/internal/app"
	"pktcore/internal/conf"
	"pktcore/internal/flog"
)

var runConfPath string

func init() {
	runCmd.Flags().StringVarP(&runConfPath, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load a config file and run its configured sources until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := conf.LoadFromFile(runConfPath)
		if err != nil {
			flog.Fatalf("failed to load configuration: %v", err)
		}
		flog.SetLevel(cfg.Log.LevelValue())

		ctx := app.New()
		if err := ctx.Init(cfg); err != nil {
			flog.Fatalf("failed to initialize: %v", err)
		}
		defer ctx.Close()

		ctx.Start()
		flog.Infof("monitor running with %d source(s), press ctrl-c to stop", len(ctx.Sources()))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		flog.Infof("shutting down")
	},
}
