package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/dyslexiview/dyslexiview/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long: `List the capture devices the configured audio backend can record from.
Set audio.input to a source ID (or part of its description) to pick one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := audio.NewBackend(cfg)
		sources, err := backend.ListSources(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list %s sources: %w", backend.GetType(), err)
		}

		fmt.Printf("🎙  Audio Sources (%s, %s backend)\n", runtime.GOOS, backend.GetType())
		fmt.Printf("═══════════════════════════════════════\n")
		fmt.Printf("Available backends: %s\n\n", joinBackends(audio.GetAvailableBackends()))

		if len(sources) == 0 {
			fmt.Println("No sources found")
			return nil
		}
		for i, source := range sources {
			marker := " "
			if source.Default {
				marker = "*"
			}
			status := "available"
			if !source.Available {
				status = "unavailable"
			}
			if source.Muted {
				status += ", muted"
			}
			fmt.Printf(" %s%d. %s\n      %s (%s)\n", marker, i+1, source.Description, source.ID, status)
		}

		fmt.Printf("\n💡 Configure in audio.input, e.g. input: %q\n", sources[0].ID)
		return nil
	},
}

func joinBackends(backends []audio.BackendType) string {
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}
