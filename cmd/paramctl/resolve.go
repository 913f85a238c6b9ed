package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	params "github.com/goliatone/go-params"
)

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <parameter> <merchant>",
		Short: "Resolve the effective value of a parameter for a merchant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.svc.ResolveParameter(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.render(cmd, value, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s = %s (%s)\n", value.ParameterName, value.Value, sourceOf(value))
				return err
			})
		},
	}
}

func newResolveManyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-many <merchant> <parameter>...",
		Short: "Resolve several parameters for a merchant at once",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := a.svc.ResolveParameters(cmd.Context(), args[1:], args[0])
			if err != nil {
				return err
			}
			return a.render(cmd, values, func(w io.Writer) error {
				return writeValues(w, values)
			})
		},
	}
}

func newEffectiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "effective <merchant>",
		Short: "Show every parameter as resolved for a merchant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := a.svc.GetEffectiveParameters(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.render(cmd, values, func(w io.Writer) error {
				return writeValues(w, values)
			})
		},
	}
}

func newChainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <merchant>",
		Short: "Show the inheritance chain of a merchant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := a.svc.GetInheritanceChain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.render(cmd, chain.Levels(), func(w io.Writer) error {
				for i, level := range chain.Levels() {
					if _, err := fmt.Fprintf(w, "%d. %s\n", i+1, level); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newTraceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <parameter> <merchant>",
		Short: "Show every level consulted while resolving a parameter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, trace, err := a.svc.ResolveWithTrace(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.render(cmd, trace, func(w io.Writer) error {
				if trace.Degraded {
					fmt.Fprintf(w, "merchant %s is not in the directory; only its own level was consulted\n", trace.MerchantID)
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "LEVEL\tFOUND\tAPPLIED\tVALUE\tVERSION")
				for _, p := range trace.Levels {
					value := "-"
					if p.Value != nil {
						value = p.Value.String()
					}
					fmt.Fprintf(tw, "%s\t%t\t%t\t%s\t%d\n", p.Level, p.Found, p.Applied, value, p.Version)
				}
				return tw.Flush()
			})
		},
	}
}

func writeValues(w io.Writer, values map[string]params.ParameterValue) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMETER\tVALUE\tSOURCE\tVERSION")
	for _, name := range names {
		value := values[name]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", name, value.Value, sourceOf(value), value.Version)
	}
	return tw.Flush()
}

func writeHistory(w io.Writer, history []params.ParameterValue) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tVALUE\tEFFECTIVE\tEXPIRES\tBY")
	for _, value := range history {
		expires := "-"
		if value.ExpirationDate != nil {
			expires = value.ExpirationDate.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", value.Version, value.State, value.Value,
			value.EffectiveDate.Format(time.RFC3339), expires, value.CreatedBy)
	}
	return tw.Flush()
}

func sourceOf(value params.ParameterValue) string {
	if !value.Overridden {
		return "default"
	}
	return value.Level().String()
}
