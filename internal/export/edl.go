package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelframe/reelframe-agent/internal/project"
)

const defaultFrameRate = 30.0

// GenerateEDL renders a CMX3600 edit decision list laying clips end to end.
func GenerateEDL(clips []ResolvedClip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(defaultFrameRate)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	if isDropFrame(frameRate) {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	recordMs := 0
	for i, clip := range clips {
		dur := clip.EndMs - clip.StartMs
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n",
			i+1, "AX", "V",
			msToTimecode(clip.StartMs, fps), msToTimecode(clip.EndMs, fps),
			msToTimecode(recordMs, fps), msToTimecode(recordMs+dur, fps),
		)
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", clip.ClipName)
		fmt.Fprintf(&b, "* MEDIA PATH:  %s\n", clip.MediaPath)
		recordMs += dur
	}
	return b.String()
}

func isDropFrame(frameRate float64) bool {
	return math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d",
		totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, frames)
}

// ClipsFromVideos maps the timeline, in order, to full-length EDL events.
// Clips with an unknown duration are skipped.
func ClipsFromVideos(videos []project.VideoItem) []ResolvedClip {
	var clips []ResolvedClip
	for _, v := range videos {
		if v.Duration <= 0 {
			continue
		}
		name := v.Name
		if name == "" {
			name = filepath.Base(v.Path)
		}
		clips = append(clips, ResolvedClip{
			ClipName:  name,
			MediaPath: v.Path,
			StartMs:   0,
			EndMs:     int(math.Round(v.Duration * 1000)),
		})
	}
	return clips
}

// WriteEDL writes the list into dir as "<title>.edl" and returns the path.
func WriteEDL(dir, title string, clips []ResolvedClip, frameRate float64) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}
	base := SanitizeName(title, 120)
	if base == "" {
		base = "timeline"
	}
	path := filepath.Join(dir, base+".edl")
	if err := os.WriteFile(path, []byte(GenerateEDL(clips, title, frameRate)), 0o644); err != nil {
		return "", fmt.Errorf("write edl: %w", err)
	}
	return path, nil
}
