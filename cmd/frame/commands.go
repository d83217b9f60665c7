package frame

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/piebus/cmd/util"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Creates a new frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := draftFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			f, err := rpcAPI.CreateFrame(ctx, draft)
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, f)
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [identity]",
		Short: "Reads a frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			f, err := rpcAPI.FrameFromIdentity(ctx, args[0])
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, f)
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists frames, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			public, _ := cmd.Flags().GetBool("public")
			limit, _ := cmd.Flags().GetInt("limit")
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()

			var (
				frames []frame.Frame
				err    error
			)
			if public {
				frames, err = rpcAPI.ListPublicFrames(ctx, limit)
			} else {
				frames, err = rpcAPI.ListFrames(ctx, limit)
			}
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, frames)
		},
	}
	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Searches frames by full-text query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			public, _ := cmd.Flags().GetBool("public")
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()

			var (
				frames []frame.Frame
				err    error
			)
			if public {
				frames, err = rpcAPI.SearchPublicFrames(ctx, args[0])
			} else {
				frames, err = rpcAPI.SearchFrames(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, frames)
		},
	}
	publishCmd = &cobra.Command{
		Use:   "publish [identity]",
		Short: "Publishes a frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPublish(cmd, args[0], true)
		},
	}
	unpublishCmd = &cobra.Command{
		Use:   "unpublish [identity]",
		Short: "Withdraws a published frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPublish(cmd, args[0], false)
		},
	}
	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Rebuilds the full-text index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			ok, err := rpcAPI.IndexFrames(ctx)
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, map[string]bool{"ok": ok})
		},
	}
	countCmd = &cobra.Command{
		Use:   "count",
		Short: "Counts all frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			n, err := rpcAPI.CountFrames(ctx)
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, map[string]int{"frames": n})
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Shows information about the database of the serving node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()
			info, err := rpcAPI.DBInfo(ctx)
			if err != nil {
				return err
			}
			return util.PrintResult(cmd, info)
		},
	}
)

func setPublish(cmd *cobra.Command, identity string, status bool) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
	defer cancel()
	f, err := rpcAPI.Publish(ctx, identity, status)
	if err != nil {
		return err
	}
	return util.PrintResult(cmd, f)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// draftFromFlags builds a draft from the flags of the create command
func draftFromFlags(cmd *cobra.Command) (frame.Draft, error) {
	flags := cmd.Flags()
	draft := frame.Draft{}

	if flags.Changed("kind") {
		s, _ := flags.GetString("kind")
		k, err := frame.ParseKind(s)
		if err != nil {
			return draft, err
		}
		draft.Kind = frame.KindPtr(k)
	}
	draft.Name, _ = flags.GetString("name")
	draft.Render, _ = flags.GetString("render")
	draft.Tags, _ = flags.GetString("tags")
	draft.Publish, _ = flags.GetBool("publish")

	var err error
	data, _ := flags.GetString("data")
	if draft.Data, err = parseMapping(data, cmd.InOrStdin()); err != nil {
		return draft, fmt.Errorf("invalid data: %w", err)
	}
	meta, _ := flags.GetString("meta")
	if draft.Meta, err = parseMapping(meta, cmd.InOrStdin()); err != nil {
		return draft, fmt.Errorf("invalid meta: %w", err)
	}
	return draft, nil
}

// parseMapping reads a JSON or YAML mapping. "@path" reads the file at
// path, "@-" reads stdin.
func parseMapping(s string, stdin io.Reader) (frame.Mapping, error) {
	raw := []byte(s)
	if strings.HasPrefix(s, "@") {
		var err error
		if s == "@-" {
			raw, err = io.ReadAll(stdin)
		} else {
			raw, err = os.ReadFile(s[1:])
		}
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(string(raw)) == "" {
		return frame.Mapping{}, nil
	}

	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		return frame.Mapping{}, nil
	}
	if _, ok := tree.(map[string]any); !ok {
		return nil, frame.ErrNotMapping
	}
	v, err := frame.FromAny(tree)
	if err != nil {
		return nil, err
	}
	return v.(frame.Mapping), nil
}
