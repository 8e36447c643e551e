package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/polyglot-runtime/schema"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show what a function artifact contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadSettings(cmd); err != nil {
				return err
			}
			fn, err := readFunction(args[0])
			if err != nil {
				return err
			}
			if js, _ := cmd.Flags().GetBool("json-schema"); js {
				out, err := fn.Signature.JSONSchemaBytes(fn.Signature.Context)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			}
			return describe(cmd.OutOrStdout(), fn)
		},
	}
	cmd.Flags().Bool("json-schema", false, "Print the context's JSON Schema instead")
	return cmd
}

func describe(w io.Writer, fn *schema.Function) error {
	var b strings.Builder
	fmt.Fprintf(&b, "function:  %s@%s\n", fn.Name, fn.Tag)
	fmt.Fprintf(&b, "language:  %s\n", fn.Language)
	fmt.Fprintf(&b, "stateless: %t\n", fn.Stateless)
	fmt.Fprintf(&b, "module:    %d bytes\n", len(fn.Module))
	fmt.Fprintf(&b, "signature: %s@%s (%s)\n", fn.Signature.Name, fn.Signature.Tag, fn.Signature.Hash())
	if len(fn.Extensions) > 0 {
		b.WriteString("extensions:\n")
		for _, x := range fn.Extensions {
			fmt.Fprintf(&b, "  %s@%s\n", x.Name, x.Tag)
			for _, it := range x.Interfaces {
				for _, m := range it.Methods {
					fmt.Fprintf(&b, "    %s.%s%s\n", it.Name, m.Name, methodShape(m))
				}
			}
		}
	}
	b.WriteString("---\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	out, err := fn.Signature.YAML()
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func methodShape(m *schema.MethodDef) string {
	s := "(" + m.Params + ")"
	switch {
	case m.Capability != "":
		s += " -> " + m.Capability
	case m.Returns != "":
		s += " -> " + m.Returns
	}
	return s
}
