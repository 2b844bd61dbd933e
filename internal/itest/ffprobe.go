//go:build integration

package itest

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type probed struct {
	Width    int
	Height   int
	Duration float64
}

// probeVideo reads the first video stream's size and the container duration.
func probeVideo(path string) (probed, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return probed{}, fmt.Errorf("ffprobe: %w\n%s", err, string(b))
	}
	var p probed
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "width":
			p.Width, err = strconv.Atoi(v)
		case "height":
			p.Height, err = strconv.Atoi(v)
		case "duration":
			p.Duration, err = strconv.ParseFloat(v, 64)
		}
		if err != nil {
			return probed{}, fmt.Errorf("parse %s %q: %w", k, v, err)
		}
	}
	if p.Width == 0 || p.Height == 0 {
		return probed{}, fmt.Errorf("no video stream in %s", path)
	}
	return p, nil
}
