package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/piebus/cmd/frame"
	"github.com/ValentinKolb/piebus/cmd/pref"
	"github.com/ValentinKolb/piebus/cmd/serve"
	"github.com/ValentinKolb/piebus/cmd/user"
	"github.com/ValentinKolb/piebus/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "piebus",
		Short: "replicated frame store",
		Long: fmt.Sprintf(`piebus (v%s)

A replicated store for frames (small JSON documents with a kind, tags and
a publish flag), with full-text search, users and preferences. Writes are
ordered through RAFT consensus so every replica holds the same data.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of piebus",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "piebus v%s\n", Version)
		},
	}
)

func init() {
	// read .env files and PIEBUS_* variables
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(user.UserCommands)
	RootCmd.AddCommand(pref.PrefCommands)
	RootCmd.AddCommand(frame.FrameCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "cbor", util.WrapString("serializer to use (json, gob, cbor)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
