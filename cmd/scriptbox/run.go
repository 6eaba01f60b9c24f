package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

// Exit codes for the run command.
const (
	ExitSuccess     = 0
	ExitScriptError = 1
	ExitEngineError = 3
)

var (
	runTimeout   float64
	runMaxMemory int64
	runWorkDir   string
	runVerbose   bool
)

var runCmd = &cobra.Command{
	Use:   "run [script.lua]",
	Short: "Execute one script locally and print the result",
	Long: `Execute a single untrusted script in the sandbox and print its output.
Reads the script from the given file, or from stdin when no file is named.
Rendered media is written next to the current directory as run-<id>.png
or run-<id>.gif.

Examples:
  scriptbox run script.lua
  echo 'print(2+2)' | scriptbox run
  scriptbox run --timeout 10 --max-memory 134217728 script.lua

Exit codes:
  0  script completed cleanly
  1  script failed (syntax, runtime, timeout, memory, blocked import)
  3  the engine itself failed`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScript,
}

func init() {
	runCmd.Flags().Float64Var(&runTimeout, "timeout", 5, "wall-clock limit in seconds")
	runCmd.Flags().Int64Var(&runMaxMemory, "max-memory", 1<<28, "worker memory limit in bytes")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", ".", "directory for rendered media files")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "log supervisor activity to stderr")
}

func runScript(_ *cobra.Command, args []string) error {
	source, err := readSource(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitEngineError)
	}

	level := slog.LevelError
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	workDir, err := filepath.Abs(runWorkDir)
	if err != nil {
		return err
	}

	engine := sandbox.New(sandbox.Config{
		WorkDir:          workDir,
		DefaultTimeout:   time.Duration(runTimeout * float64(time.Second)),
		DefaultMaxMemory: runMaxMemory,
	}, logger)

	runID := uuid.New().String()
	env, err := engine.Run(context.Background(), sandbox.Request{
		Source: source,
		RunID:  runID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitEngineError)
	}

	if env.Text != "" {
		fmt.Print(env.Text)
	}
	if env.HasImage {
		fmt.Fprintf(os.Stderr, "image written to %s\n", filepath.Join(workDir, sandbox.ImageFile(runID)))
	}
	if env.HasAnimation {
		fmt.Fprintf(os.Stderr, "animation written to %s\n", filepath.Join(workDir, sandbox.AnimationFile(runID)))
	}
	if env.Duration >= 0 && runVerbose {
		fmt.Fprintf(os.Stderr, "finished in %.3fs\n", env.Duration)
	}
	if env.Error != nil {
		fmt.Fprintf(os.Stderr, "script error (%s): %s\n", env.Error.Kind, env.Error.Message)
		os.Exit(ExitScriptError)
	}
	return nil
}

func readSource(args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading script: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading script from stdin: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("no script given: pass a file or pipe source on stdin")
	}
	return string(data), nil
}
