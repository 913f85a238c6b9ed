package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/service"
)

func newSetCmd(a *app) *cobra.Command {
	var actor, effective, expires string
	cmd := &cobra.Command{
		Use:   "set <entity-type> <entity-id> <parameter> <value>",
		Short: "Create or replace an override at one hierarchy level",
		Long: `Create or replace an override. The value is parsed according to the
parameter's data type; OBJECT and ARRAY values are given as JSON.`,
		Example: `  paramctl set program p1 maxRefundAmount 500
  paramctl set bank b1 payoutSchedule '{"interval":"weekly"}' --effective 2025-01-01T00:00:00Z`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			entityType, err := parseEntityType(args[0])
			if err != nil {
				return err
			}
			def, err := a.svc.GetParameterDefinition(ctx, args[2])
			if err != nil {
				return err
			}
			value, err := params.ParseValue(def.DataType, args[3])
			if err != nil {
				return fmt.Errorf("%w: %s: %v", params.ErrInvalidParameter, def.Name, err)
			}

			meta := service.WriteMetadata{Actor: actor}
			from, err := parseTime("effective", effective)
			if err != nil {
				return err
			}
			if from != nil {
				meta.EffectiveDate = *from
			}
			if meta.ExpirationDate, err = parseTime("expires", expires); err != nil {
				return err
			}

			saved, err := a.svc.SetParameter(ctx, entityType, args[1], def.Name, value, meta)
			if err != nil {
				return err
			}
			return a.render(cmd, saved, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s at %s set to %s (version %d)\n",
					saved.ParameterName, saved.Level(), saved.Value, saved.Version)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "paramctl", "Actor recorded on the override")
	cmd.Flags().StringVar(&effective, "effective", "", "Effective date, RFC3339 (default now)")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiration date, RFC3339")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "delete <entity-type> <entity-id> <parameter>",
		Short: "Remove the override of a parameter at one hierarchy level",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, err := parseEntityType(args[0])
			if err != nil {
				return err
			}
			removed, err := a.svc.DeleteParameter(cmd.Context(), entityType, args[1], args[2], service.WriteMetadata{Actor: actor})
			if err != nil {
				return err
			}
			result := map[string]any{"parameter": args[2], "entity_type": entityType, "entity_id": args[1], "deleted": removed}
			return a.render(cmd, result, func(w io.Writer) error {
				level := params.ChainLevel{EntityType: entityType, EntityID: args[1]}
				if !removed {
					_, err := fmt.Fprintf(w, "no override of %s at %s\n", args[2], level)
					return err
				}
				_, err := fmt.Fprintf(w, "deleted %s at %s\n", args[2], level)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "paramctl", "Actor recorded on the deletion")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <entity-type> <entity-id> <parameter>",
		Short: "List every version of an override, newest first",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, err := parseEntityType(args[0])
			if err != nil {
				return err
			}
			history, err := a.svc.GetParameterHistory(cmd.Context(), entityType, args[1], args[2])
			if err != nil {
				return err
			}
			return a.render(cmd, history, func(w io.Writer) error {
				return writeHistory(w, history)
			})
		},
	}
}
