package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute pipeline steps",
	Long: `Execute the pipeline steps given with -p, in order:

  r  record until Ctrl+C (or --duration) and upload
  l  list the recordings stored by the service
  p  play the newest recording (enhanced with --enhanced, when available)

For example "dyslexiview run -p rlp" records a take, shows the list and plays it back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rlp)")
		}
		duration, _ := cmd.Flags().GetDuration("duration")
		enhanced, _ := cmd.Flags().GetBool("enhanced")

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		steps := []rune(strings.ToLower(pipeline))
		for i, step := range steps {
			fmt.Printf("Pipeline: executing step %d/%d: %s...\n", i+1, len(steps), validSteps[step])

			switch step {
			case 'r':
				ctx, stop := signalContext(cmd.Context())
				result, err := recordOnce(ctx, svc, duration)
				stop()
				if err != nil {
					return fmt.Errorf("pipeline record failed: %w", err)
				}
				printUploadResult(result)

			case 'l':
				if err := svc.RefreshRecordings(cmd.Context()); err != nil {
					return fmt.Errorf("pipeline list failed: %w", err)
				}
				printRecordings(svc.ListRecordings())

			case 'p':
				if err := svc.RefreshRecordings(cmd.Context()); err != nil {
					return fmt.Errorf("pipeline play failed: %w", err)
				}
				latest, ok := latestRecording(svc.ListRecordings())
				if !ok {
					return fmt.Errorf("pipeline play failed: no recordings")
				}
				if err := playAndWait(cmd, svc, latest.ID, enhanced && latest.Enhanced); err != nil {
					return fmt.Errorf("pipeline play failed: %w", err)
				}
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline steps: r=record, l=list, p=play (e.g., 'rlp', 'lp')")
	runCmd.Flags().DurationP("duration", "d", 0, "recording length for the r step (default: until Ctrl+C)")
	runCmd.Flags().BoolP("enhanced", "e", false, "play the enhanced version when available")
}
