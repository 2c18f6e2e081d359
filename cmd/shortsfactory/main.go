package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "shortsfactory",
		Short: "Short-form video pipeline",
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default searches ./config and .)")

	root.AddCommand(runCMD(), rerunCMD(), statusCMD(), serveCMD(), workerCMD(), migrateCMD())
	for _, stage := range stageCommands() {
		root.AddCommand(stage)
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
