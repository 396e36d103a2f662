package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pktcore/internal/conf"
)

var validateConfPath string

func init() {
	validateCmd.Flags().StringVarP(&validateConfPath, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate a config file without starting anything.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := conf.LoadFromFile(validateConfPath)
		if err != nil {
			fmt.Println("invalid:", err)
			os.Exit(1)
		}
		fmt.Printf("valid: role=%s, %d source(s)\n", cfg.Role, len(cfg.Sources))
	},
}
