package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/internal/seed"
	"github.com/goliatone/go-params/schema/openapi"
)

func newDefinitionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definitions",
		Aliases: []string{"defs"},
		Short:   "Manage parameter definitions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered parameter definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := a.svc.GetAllParameterDefinitions(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd, defs, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tTYPE\tDEFAULT\tOVERRIDABLE\tRULES\tCATEGORY")
				for _, def := range defs {
					rules := make([]string, 0, len(def.ValidationRules))
					for _, rule := range def.ValidationRules {
						rules = append(rules, strings.ToLower(string(rule.Type)))
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", def.Name, def.DataType, def.DefaultValue,
						def.Overridable, strings.Join(rules, ","), def.Category)
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "apply <file>",
		Short: "Create or replace the definitions listed in a YAML file",
		Long:  `Apply reads the definitions section of a seed file; merchants and overrides in the same file are ignored.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			result, err := seed.Apply(cmd.Context(), seed.File{Definitions: file.Definitions}, a.svc, nil, "")
			if err != nil {
				return err
			}
			return a.render(cmd, result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "applied %d definitions\n", result.Definitions)
				return err
			})
		},
	})
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <parameter> <value>",
		Short: "Check a value against a parameter's rules without writing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			def, err := a.svc.GetParameterDefinition(ctx, args[0])
			if err != nil {
				return err
			}
			value, err := params.ParseValue(def.DataType, args[1])
			if err != nil {
				return fmt.Errorf("%w: %s: %v", params.ErrInvalidParameter, def.Name, err)
			}
			result, err := a.svc.ValidateParameterValue(ctx, def.Name, value)
			if err != nil {
				return err
			}
			if err := a.render(cmd, result, func(w io.Writer) error {
				if result.Valid {
					_, err := fmt.Fprintf(w, "%s: valid\n", def.Name)
					return err
				}
				for _, msg := range result.Errors {
					if _, err := fmt.Fprintf(w, "%s: %s\n", def.Name, msg); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("%w: %s", params.ErrValidationFailed, def.Name)
			}
			return nil
		},
	}
}

func newSchemaCmd(a *app) *cobra.Command {
	var title, version, basePath string
	var redact bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print an OpenAPI document describing every parameter definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []openapi.GeneratorOption{openapi.WithInfo(title, version)}
			if basePath != "" {
				opts = append(opts, openapi.WithBasePath(basePath))
			}
			if redact {
				opts = append(opts, openapi.WithRedactConfidential())
			}
			doc, err := a.svc.DescribeDefinitions(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			return a.render(cmd, doc, nil)
		},
	}
	cmd.Flags().StringVar(&title, "title", "Merchant Parameters", "Document title")
	cmd.Flags().StringVar(&version, "version", "1.0.0", "Document version")
	cmd.Flags().StringVar(&basePath, "base-path", "", "Prefix for generated paths")
	cmd.Flags().BoolVar(&redact, "redact-confidential", false, "Omit defaults of confidential parameters")
	return cmd
}

func newSeedCmd(a *app) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Load definitions, merchants and overrides from a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.SeedFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no seed file given and seed_file is not configured")
			}
			file, err := seed.Load(path)
			if err != nil {
				return err
			}
			result, err := seed.Apply(cmd.Context(), file, a.svc, a.store, actor)
			if renderErr := a.render(cmd, result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "seeded %d definitions, %d merchants, %d overrides\n",
					result.Definitions, result.Merchants, result.Overrides)
				return err
			}); renderErr != nil {
				return renderErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "seed", "Actor recorded on seeded overrides")
	return cmd
}
