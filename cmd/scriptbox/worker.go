package main

import (
	"github.com/spf13/cobra"

	"github.com/jkaninda/scriptbox/internal/worker"
)

var (
	workerRunID   string
	workerWorkDir string
)

// workerCmd is the sandboxed side of the engine. The supervisor re-executes
// this binary with the worker subcommand, pipes the script source on stdin,
// and reads exactly one JSON envelope from stdout. Not meant to be invoked
// by hand.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return worker.Main(workerRunID, workerWorkDir)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerRunID, "run-id", "", "run identifier for side-channel filenames")
	workerCmd.Flags().StringVar(&workerWorkDir, "work-dir", ".", "directory for rendered media files")
	_ = workerCmd.MarkFlagRequired("run-id")
}
