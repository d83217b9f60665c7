package pref

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/piebus/cmd/util"
	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/spf13/cobra"
)

var (
	rpcAPI api.IAPI

	// PrefCommands represents the preference command group
	PrefCommands = &cobra.Command{
		Use:               "pref",
		Short:             "Read and write preferences",
		PersistentPreRunE: setupClient,
	}
)

func init() {
	// Add common RPC flags to the pref command
	util.SetupRPCClientFlags(PrefCommands)

	getCmd.Flags().String("default", "", util.WrapString("Value returned when the key is not set"))

	// Add subcommands
	PrefCommands.AddCommand(getCmd)
	PrefCommands.AddCommand(setCmd)
	PrefCommands.AddCommand(registerEnabledCmd)
}

// setupClient initializes the RPC client
func setupClient(cmd *cobra.Command, _ []string) (err error) {
	rpcAPI, err = util.NewClient(cmd)
	return err
}

type preference struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads a preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, _ := cmd.Flags().GetString("default")
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			value, err := rpcAPI.GetPreference(ctx, args[0], def)
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, preference{Key: args[0], Value: value})
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Writes a preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			value, err := rpcAPI.SetPreference(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, preference{Key: args[0], Value: value})
		},
	}
	registerEnabledCmd = &cobra.Command{
		Use:       "register-enabled [on|off]",
		Short:     "Shows or switches whether new users may register",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()

			var (
				enabled bool
				err     error
			)
			if len(args) == 0 {
				enabled, err = rpcAPI.EnableRegister(ctx)
			} else {
				switch args[0] {
				case "on":
					enabled, err = rpcAPI.SetEnableRegister(ctx, true)
				case "off":
					enabled, err = rpcAPI.SetEnableRegister(ctx, false)
				default:
					return fmt.Errorf("invalid argument %s (expected on or off)", args[0])
				}
			}
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, map[string]bool{"register_enabled": enabled})
		},
	}
)
