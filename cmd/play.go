package cmd

import (
	"fmt"

	"github.com/dyslexiview/dyslexiview/internal/playback"
	"github.com/dyslexiview/dyslexiview/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [recording-id]",
	Short: "Play a recording",
	Long: `Play a stored recording by id, or its enhanced variant with --enhanced.
Uses the Pulse server when available, otherwise vlc, mpv, ffplay or aplay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enhanced, _ := cmd.Flags().GetBool("enhanced")

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		return playAndWait(cmd, svc, args[0], enhanced)
	},
}

func init() {
	playCmd.Flags().BoolP("enhanced", "e", false, "play the enhanced version")
}

// playAndWait plays id and blocks until it ends or Ctrl+C
func playAndWait(cmd *cobra.Command, svc service.Service, id string, enhanced bool) error {
	ended := make(chan struct{})
	svc.OnPlaybackEnd(func(playback.NowPlaying) { close(ended) })

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := svc.Play(ctx, id, enhanced); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	if now, ok := svc.NowPlaying(); ok {
		fmt.Printf("Playing: %s\n", now.URL)
	}

	select {
	case <-ended:
		fmt.Println("Playback completed")
	case <-ctx.Done():
		_ = svc.StopPlayback()
		fmt.Println("Playback stopped")
	}
	return nil
}
