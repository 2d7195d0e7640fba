package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "indexgate",
	Short: "indexgate: MCP gateway for hosted document-search indexes",
	Long: "indexgate exposes each user's enabled document-search indexes as MCP tools " +
		"and proxies tool calls to the upstream retrieval API.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, use defaults and environment)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
