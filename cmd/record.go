package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dyslexiview/dyslexiview/internal/capture"
	"github.com/dyslexiview/dyslexiview/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the microphone and upload the result",
	Long: `Record audio from the configured input until Ctrl+C (or for --duration),
then upload it to the service as recording.wav and print the service's reply.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")

		svc, err := newService(service.WithTickHandler(printElapsed))
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		result, err := recordOnce(ctx, svc, duration)
		if err != nil {
			return err
		}
		printUploadResult(result)
		return nil
	},
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "stop automatically after this long (default: until Ctrl+C)")
}

// recordOnce records until ctx is cancelled or duration elapses, then uploads
func recordOnce(ctx context.Context, svc service.Service, duration time.Duration) (*service.UploadResult, error) {
	slog.Debug("Record command started", "duration", duration)
	if err := svc.StartRecording(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}

	if duration > 0 {
		fmt.Printf("Recording for %s - Press Ctrl+C to stop early\n", duration)
		select {
		case <-ctx.Done():
		case <-time.After(duration):
		}
	} else {
		fmt.Println("Recording - Press Ctrl+C to stop")
		<-ctx.Done()
	}
	fmt.Println()

	slog.Info("Stopping recording...")
	uploadCtx, cancel := context.WithTimeout(context.Background(), svc.GetConfig().Server.Timeout)
	defer cancel()

	result, err := svc.StopRecording(uploadCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to save recording: %w", err)
	}
	return result, nil
}

func printElapsed(elapsed int) {
	fmt.Printf("\r● REC %s", capture.FormatElapsed(elapsed))
}

func printUploadResult(result *service.UploadResult) {
	if result == nil {
		fmt.Println("Nothing was recorded")
		return
	}
	fmt.Printf("Uploaded %s (%s)\n", result.Duration.Round(time.Second), result.SizeHuman)
	if len(result.Payload) > 0 {
		fmt.Printf("Service reply: %s\n", result.Payload)
	}
}
