package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"livestreamdvr/internal/inbox"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

// newTriggerCommand writes command files into the daemon's inbox. The
// daemon applies them in file-name order.
func newTriggerCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Send a broadcast event to the running daemon",
	}
	cmd.AddCommand(newTriggerLiveCommand(ctx))
	cmd.AddCommand(newTriggerEndedCommand(ctx))
	cmd.AddCommand(newTriggerChapterCommand(ctx))
	cmd.AddCommand(newTriggerStopCommand(ctx))
	return cmd
}

func newTriggerLiveCommand(ctx *commandContext) *cobra.Command {
	var (
		provider string
		id       string
		videoID  string
		basename string
	)
	cmd := &cobra.Command{
		Use:   "live <channel-id>",
		Short: "Announce that a channel went live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := vod.ParseProvider(provider)
			if err != nil {
				return err
			}
			channelID := args[0]
			if id == "" {
				id = channelID
			}
			var data vod.ProviderData
			switch p {
			case vod.ProviderTwitch:
				data = vod.TwitchData{Login: id}
			case vod.ProviderYouTube:
				data = vod.YouTubeData{ChannelHandle: id, VideoID: videoID}
			case vod.ProviderKick:
				data = vod.KickData{Slug: id}
			}
			now := time.Now().UTC()
			command, err := inbox.NewLive(channelID, data, &now)
			if err != nil {
				return err
			}
			command.Basename = basename
			return writeTrigger(ctx, cmd, command)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", string(vod.ProviderTwitch), "Provider: twitch, youtube or kick")
	cmd.Flags().StringVar(&id, "id", "", "Provider login, handle or slug (defaults to the channel id)")
	cmd.Flags().StringVar(&videoID, "video-id", "", "YouTube video id")
	cmd.Flags().StringVar(&basename, "basename", "", "Override the generated file name root")
	return cmd
}

func newTriggerEndedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ended <vod-uuid>",
		Short: "Record that the broadcast ended upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			return writeTrigger(ctx, cmd, inbox.Command{Type: inbox.TypeEnded, VODUUID: args[0], At: &now})
		},
	}
}

func newTriggerChapterCommand(ctx *commandContext) *cobra.Command {
	var (
		category string
		viewers  int
		mature   bool
	)
	cmd := &cobra.Command{
		Use:   "chapter <vod-uuid> <title>",
		Short: "Record a title or category change",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := timeline.Raw{
				At:           time.Now().UTC(),
				Title:        strings.Join(args[1:], " "),
				CategoryName: category,
				Online:       true,
				IsMature:     mature,
			}
			if cmd.Flags().Changed("viewers") {
				raw.ViewerCount = &viewers
			}
			return writeTrigger(ctx, cmd, inbox.Command{Type: inbox.TypeChapter, VODUUID: args[0], Chapter: &raw})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category or game name")
	cmd.Flags().IntVar(&viewers, "viewers", 0, "Viewer count at the change")
	cmd.Flags().BoolVar(&mature, "mature", false, "Mark the chapter as mature content")
	return cmd
}

func newTriggerStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <vod-uuid>",
		Short: "Stop a running capture or conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeTrigger(ctx, cmd, inbox.Command{Type: inbox.TypeStop, VODUUID: args[0]})
		},
	}
}

func writeTrigger(ctx *commandContext, cmd *cobra.Command, command inbox.Command) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	path, err := inbox.Write(cfg.Paths.InboxDir, command)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s trigger: %s\n", command.Type, path)
	return nil
}
