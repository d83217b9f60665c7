package frame

import (
	"github.com/ValentinKolb/piebus/cmd/util"
	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/spf13/cobra"
)

var (
	rpcAPI api.IAPI

	// FrameCommands represents the frame command group
	FrameCommands = &cobra.Command{
		Use:               "frame",
		Short:             "Create, read, search and publish frames",
		PersistentPreRunE: setupClient,
	}
)

func init() {
	// Add common RPC flags to the frame command
	util.SetupRPCClientFlags(FrameCommands)

	// create flags
	key := "kind"
	createCmd.Flags().String(key, "", util.WrapString("Kind of the frame (command, event, message, request, response, state, stream or 0-6). Defaults to event"))
	key = "name"
	createCmd.Flags().String(key, "", util.WrapString("Name of the frame"))
	key = "data"
	createCmd.Flags().String(key, "", util.WrapString("Payload as a JSON or YAML mapping. Use @path to read it from a file and @- for stdin"))
	key = "meta"
	createCmd.Flags().String(key, "", util.WrapString("Metadata as a JSON or YAML mapping. A 'source' key sets the source of the frame"))
	key = "render"
	createCmd.Flags().String(key, "", util.WrapString("Render hint of the frame"))
	key = "tags"
	createCmd.Flags().String(key, "", util.WrapString("Space separated tags"))
	key = "publish"
	createCmd.Flags().Bool(key, false, util.WrapString("Publish the frame right away"))

	// read flags
	for _, c := range []*cobra.Command{listCmd, searchCmd} {
		c.Flags().Bool("public", false, util.WrapString("Only include published frames"))
	}
	listCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of frames (0 = server default of 10)"))

	// Add subcommands
	FrameCommands.AddCommand(createCmd)
	FrameCommands.AddCommand(getCmd)
	FrameCommands.AddCommand(listCmd)
	FrameCommands.AddCommand(searchCmd)
	FrameCommands.AddCommand(publishCmd)
	FrameCommands.AddCommand(unpublishCmd)
	FrameCommands.AddCommand(reindexCmd)
	FrameCommands.AddCommand(countCmd)
	FrameCommands.AddCommand(infoCmd)
	FrameCommands.AddCommand(perfTestCmd)
}

// setupClient initializes the RPC client
func setupClient(cmd *cobra.Command, _ []string) (err error) {
	rpcAPI, err = util.NewClient(cmd)
	return err
}
