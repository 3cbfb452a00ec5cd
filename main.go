package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rigflip",
	Short: "rigflip - scan marketplaces for underpriced gaming PCs and track the flips",
	Long: `rigflip scans saved marketplace searches in browser tabs, appraises the
listings it finds and tracks promising ones through a buy, refurbish and
resell pipeline. Configuration comes from .env and the YAML files under
CONFIG_DIR (default "config").`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(dealsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
