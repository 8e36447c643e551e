package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/polyglot-runtime/config"
	"github.com/wippyai/polyglot-runtime/polyglot"
	"github.com/wippyai/polyglot-runtime/runtime"
	"github.com/wippyai/polyglot-runtime/schema"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a function artifact once",
		Long: `Run the guest of a function artifact with a context built from --set
flags, then print the resulting context as JSON.

Scalar and enum fields take their value verbatim:
  polyrun run greet.fn --set Name=world --set Level=High
Containers and nested records take YAML flow syntax:
  polyrun run greet.fn --set 'Tags=[a, b]' --set 'Origin={X: 1, Y: 2}'

Guest stdout and stderr are forwarded to stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	cmd.Flags().StringArray("set", nil, "Set a context field: name=value (repeatable)")
	cmd.Flags().Duration("timeout", 0, "Run timeout (overrides settings)")
	cmd.Flags().Uint32("memory-pages", 0, "Guest memory limit in 64KiB pages (overrides settings)")
	cmd.Flags().BoolP("interactive", "i", false, "Edit the context in a form before running")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	settings, _, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	fn, err := readFunction(args[0])
	if err != nil {
		return err
	}
	if len(fn.Extensions) > 0 {
		names := make([]string, len(fn.Extensions))
		for i, x := range fn.Extensions {
			names[i] = x.Name
		}
		return fmt.Errorf("function %s needs extensions polyrun cannot provide: %s", fn.Name, strings.Join(names, ", "))
	}

	rec, err := fn.Signature.NewContext()
	if err != nil {
		return err
	}
	sets, _ := cmd.Flags().GetStringArray("set")
	if err := applySets(rec, sets); err != nil {
		return err
	}

	rn := &runner{fn: fn, settings: settings, output: cmd.ErrOrStderr()}
	if cmd.Flags().Changed("timeout") {
		rn.timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if cmd.Flags().Changed("memory-pages") {
		rn.memoryPages, _ = cmd.Flags().GetUint32("memory-pages")
	}

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("--interactive needs a terminal")
		}
		return runInteractive(args[0], rec, rn)
	}

	out, err := rn.run(cmd.Context(), rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

// applySets assigns name=value pairs to rec.
func applySets(rec *schema.Record, sets []string) error {
	for _, set := range sets {
		name, raw, ok := strings.Cut(set, "=")
		if !ok {
			return fmt.Errorf("--set %q: expected name=value", set)
		}
		_, f, ok := rec.Model().Field(name)
		if !ok {
			return fmt.Errorf("--set %q: %s has no field %s", set, rec.Model().Name, name)
		}
		v, err := parseValue(f, raw)
		if err != nil {
			return fmt.Errorf("--set %q: %w", set, err)
		}
		if err := rec.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// parseValue passes scalars through as strings, which Record.Set converts,
// and parses containers and records as YAML.
func parseValue(f *schema.FieldDef, raw string) (any, error) {
	switch f.Kind {
	case polyglot.ArrayKind, polyglot.MapKind, polyglot.RecordKind:
	default:
		return raw, nil
	}
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// runner runs a function once per call on a fresh instance.
type runner struct {
	fn          *schema.Function
	settings    *config.Settings
	output      io.Writer
	timeout     time.Duration
	memoryPages uint32
}

func (rn *runner) run(ctx context.Context, rec *schema.Record) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sig := rn.fn.Signature
	cfg := runtime.NewConfig(func() *schema.Record {
		r, _ := sig.NewContext()
		return r
	}).
		WithFunction(rn.fn).
		WithSettings(rn.settings).
		WithLogger(runtime.Logger()).
		WithStdout(rn.output).
		WithStderr(rn.output)
	if rn.timeout > 0 {
		cfg.WithTimeout(rn.timeout)
	}
	if rn.memoryPages > 0 {
		cfg.WithMemoryLimit(rn.memoryPages)
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer rt.Close(ctx)

	if err := rt.Run(ctx, rec); err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
