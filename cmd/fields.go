package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/onboarding-cli/internal/model"
)

var fieldCmd = &cobra.Command{
	Use:   "field",
	Short: "Manage custom fields on a saved offering",
}

var fieldAddCmd = &cobra.Command{
	Use:   "add <offering-id> <key> <value>",
	Short: "Add a user-defined field",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		typ, _ := cmd.Flags().GetString("type")
		label, _ := cmd.Flags().GetString("label")

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		off, err := env.Orchestrator.AddCustomField(ctx, args[0], args[1], parseFieldValue(args[2]), model.FieldType(typ), label)
		if err != nil {
			return eris.Wrap(err, "add field")
		}
		return printJSON(os.Stdout, off)
	},
}

var fieldSetCmd = &cobra.Command{
	Use:   "set <offering-id> <key> <value>",
	Short: "Change the value of a field",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		off, err := env.Orchestrator.UpdateCustomField(ctx, args[0], args[1], parseFieldValue(args[2]))
		if err != nil {
			return eris.Wrap(err, "update field")
		}
		return printJSON(os.Stdout, off)
	},
}

var fieldRemoveCmd = &cobra.Command{
	Use:   "rm <offering-id> <key>",
	Short: "Remove a user-defined field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		off, err := env.Orchestrator.RemoveCustomField(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "remove field")
		}
		return printJSON(os.Stdout, off)
	},
}

func init() {
	fieldAddCmd.Flags().String("type", string(model.FieldTypeText), "field type (text, number, boolean, url, list, object)")
	fieldAddCmd.Flags().String("label", "", "display label")

	fieldCmd.AddCommand(fieldAddCmd)
	fieldCmd.AddCommand(fieldSetCmd)
	fieldCmd.AddCommand(fieldRemoveCmd)
	rootCmd.AddCommand(fieldCmd)
}

// parseFieldValue reads s as JSON so numbers, booleans, lists and objects
// keep their type. Anything else is taken as plain text.
func parseFieldValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
