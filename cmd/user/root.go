package user

import (
	"context"

	"github.com/ValentinKolb/piebus/cmd/util"
	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/spf13/cobra"
)

var (
	rpcAPI api.IAPI

	// UserCommands represents the user command group
	UserCommands = &cobra.Command{
		Use:               "user",
		Short:             "Register users and check credentials",
		PersistentPreRunE: setupClient,
	}
)

func init() {
	// Add common RPC flags to the user command
	util.SetupRPCClientFlags(UserCommands)

	// Add subcommands
	UserCommands.AddCommand(registerCmd)
	UserCommands.AddCommand(loginCmd)
	UserCommands.AddCommand(logoutCmd)
}

// setupClient initializes the RPC client
func setupClient(cmd *cobra.Command, _ []string) (err error) {
	rpcAPI, err = util.NewClient(cmd)
	return err
}

// result is printed by every user command
type result struct {
	Username string `json:"username" yaml:"username"`
	Ok       bool   `json:"ok" yaml:"ok"`
}

var (
	registerCmd = &cobra.Command{
		Use:   "register [username] [password]",
		Short: "Registers a new user (only while registration is enabled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			ok, err := rpcAPI.Register(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, result{Username: args[0], Ok: ok})
		},
	}
	loginCmd = &cobra.Command{
		Use:   "login [username] [password]",
		Short: "Checks the credentials of a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			ok, err := rpcAPI.Login(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, result{Username: args[0], Ok: ok})
		},
	}
	logoutCmd = &cobra.Command{
		Use:   "logout [username]",
		Short: "Logs a user out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			ok, err := rpcAPI.Logout(ctx, args[0])
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, result{Username: args[0], Ok: ok})
		},
	}
)
