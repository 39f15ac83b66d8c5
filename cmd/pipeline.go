package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dyslexiview/dyslexiview/internal/service"
)

var validSteps = map[rune]string{
	'r': "record",
	'l': "list",
	'p': "play",
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	for _, step := range strings.ToLower(pipeline) {
		if _, ok := validSteps[step]; !ok {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, l=list, p=play)", step)
		}
	}
	return nil
}

// latestRecording returns the recording with the newest timestamp
func latestRecording(recs []service.RecordingInfo) (service.RecordingInfo, bool) {
	if len(recs) == 0 {
		return service.RecordingInfo{}, false
	}
	sorted := append([]service.RecordingInfo(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})
	return sorted[0], true
}
