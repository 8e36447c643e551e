package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/polyglot-runtime/schema"
)

func newPackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Bundle a compiled guest and its signature into an artifact",
		Example: `  polyrun pack --module greet.wasm --signature greet.yaml \
    --name greet --tag v1 --language go -o greet.fn`,
		Args: cobra.NoArgs,
		RunE: runPack,
	}
	cmd.Flags().String("module", "", "Compiled guest (.wasm)")
	cmd.Flags().String("signature", "", "Signature YAML")
	cmd.Flags().String("name", "", "Function name")
	cmd.Flags().String("tag", "v1", "Function tag")
	cmd.Flags().String("language", "", "Guest source language")
	cmd.Flags().Bool("stateless", false, "Instances may run more than once")
	cmd.Flags().StringP("output", "o", "", "Artifact path")
	for _, name := range []string{"module", "signature", "name", "language", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runPack(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	modulePath, _ := flags.GetString("module")
	sigPath, _ := flags.GetString("signature")
	output, _ := flags.GetString("output")

	wasm, err := os.ReadFile(modulePath)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}
	sig, err := schema.LoadSignature(sigPath)
	if err != nil {
		return err
	}

	fn := &schema.Function{Signature: sig, Module: wasm}
	fn.Name, _ = flags.GetString("name")
	fn.Tag, _ = flags.GetString("tag")
	fn.Language, _ = flags.GetString("language")
	fn.Stateless, _ = flags.GetBool("stateless")
	if err := fn.Validate(); err != nil {
		return err
	}

	if err := os.WriteFile(output, fn.Encode(), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "packed %s@%s (%d bytes module) into %s\n", fn.Name, fn.Tag, len(wasm), output)
	return nil
}
