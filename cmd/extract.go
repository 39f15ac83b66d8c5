package cmd

import (
	"fmt"
	"os"

	"github.com/dyslexiview/dyslexiview/internal/config"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract [image]",
	Short: "Extract and summarize the text in an image",
	Long: `Upload an image to the service, which reads the text in it, summarizes it
and renders both as speech. Prints the texts and the audio URLs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(args[0])
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open image: %w", err)
		}
		defer f.Close()

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		result, err := svc.Extract(cmd.Context(), path, f)
		if err != nil {
			return err
		}

		fmt.Println("Original text:")
		fmt.Println(result.OriginalText)
		if url := svc.AssetURL(result.OriginalSound); url != "" {
			fmt.Printf("  ♪ %s\n", url)
		}
		fmt.Println()
		fmt.Println("Summary:")
		fmt.Println(result.SummarizedText)
		if url := svc.AssetURL(result.SummarySound); url != "" {
			fmt.Printf("  ♪ %s\n", url)
		}
		return nil
	},
}
