package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// flagValue reads a flag declared in init() and panics when it is missing or
// has another type. Both cases are programming errors, not user input.
func flagValue[T any](cmd *cobra.Command, name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag --%s on %q: %v", name, cmd.CommandPath(), err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return flagValue(cmd, name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return flagValue(cmd, name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return flagValue(cmd, name, cmd.Flags().GetString)
}
