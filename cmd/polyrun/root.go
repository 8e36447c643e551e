package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/polyglot-runtime/config"
	"github.com/wippyai/polyglot-runtime/engine"
	"github.com/wippyai/polyglot-runtime/extension"
	"github.com/wippyai/polyglot-runtime/runtime"
	"github.com/wippyai/polyglot-runtime/schema"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "polyrun",
		Short: "Run polyglot WebAssembly functions",
		Long: `polyrun - load a function artifact and run its WebAssembly guest.

An artifact bundles a compiled guest with the signature of the context it
exchanges. polyrun builds the context from --set flags or an interactive
form, runs the guest once and prints the resulting context as JSON.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Settings file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(), newInspectCmd(), newPackCmd())
	return root
}

// loadSettings reads --config and applies --log-level. The resulting logger
// is installed as the package logger of every runtime package.
func loadSettings(cmd *cobra.Command) (*config.Settings, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	s, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		s.Log.Level = lvl
		if err := s.Validate(); err != nil {
			return nil, nil, err
		}
	}
	logger, err := s.Logger()
	if err != nil {
		return nil, nil, err
	}
	engine.SetLogger(logger)
	extension.SetLogger(logger)
	runtime.SetLogger(logger)
	return s, logger, nil
}

func readFunction(path string) (*schema.Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return schema.DecodeFunction(data)
}
