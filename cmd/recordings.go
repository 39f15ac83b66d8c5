package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dyslexiview/dyslexiview/internal/service"

	"github.com/spf13/cobra"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"ls", "list"},
	Short:   "List recordings stored by the service",
	Long: `Fetch the recordings list from the service and print it.
With --watch the list is refetched every catalog.poll_interval and reprinted
until Ctrl+C. Polling is the default. catalog.mode "push" instead expects the
server to offer a websocket at /api/recordings/ws sending the full list as a
JSON array; the stock service does not, and the client falls back to polling
when the endpoint is missing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if !watch {
			if err := svc.RefreshRecordings(cmd.Context()); err != nil {
				return fmt.Errorf("failed to fetch recordings: %w", err)
			}
			printRecordings(svc.ListRecordings())
			return nil
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		svc.OnRecordingsUpdate(func(recs []service.RecordingInfo) {
			fmt.Print("\033[H\033[2J")
			printRecordings(recs)
		})
		svc.StartCatalog(ctx)
		<-ctx.Done()
		svc.StopCatalog()
		return nil
	},
}

func init() {
	recordingsCmd.Flags().BoolP("watch", "w", false, "keep the list refreshed until Ctrl+C")
}

func printRecordings(recs []service.RecordingInfo) {
	if len(recs) == 0 {
		fmt.Println("No recordings yet")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORDED\tFILE\tENHANCED")
	for _, rec := range recs {
		enhanced := "-"
		if rec.Enhanced {
			enhanced = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, rec.TimeHuman, rec.Filename, enhanced)
	}
	tw.Flush()
}
