package export

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/reelframe/reelframe-agent/internal/capture"
	"github.com/reelframe/reelframe-agent/internal/project"
)

const (
	defaultFolder = "frames"
	maxNameLen    = 80
	idSuffixLen   = 8
)

// FolderName is the folder every entry is grouped under.
func FolderName(archiveName string) string {
	name := strings.TrimSuffix(strings.TrimSpace(archiveName), ".zip")
	name = SanitizeName(name, maxNameLen)
	if name == "" || name == "." || name == ".." {
		return defaultFolder
	}
	return name
}

// EntryNames assigns "<videoName>_<type>_<id prefix><ext>" to each item, in
// input order. Names left equal after sanitizing get "-2", "-3" and so on.
// The result depends only on the input.
func EntryNames(items []project.GalleryItem) []string {
	names := make([]string, len(items))
	used := make(map[string]bool, len(items))
	for i, it := range items {
		stem := entryStem(it)
		ext := extensionFor(it.Src)

		name := stem + ext
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s-%d%s", stem, n, ext)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func entryStem(it project.GalleryItem) string {
	video := strings.TrimSuffix(it.VideoName, path.Ext(it.VideoName))
	video = SanitizeName(video, maxNameLen)
	if video == "" {
		video = "frame"
	}
	id := it.ID
	if len(id) > idSuffixLen {
		id = id[:idSuffixLen]
	}
	return SanitizeName(fmt.Sprintf("%s_%s_%s", video, it.Type, id), 0)
}

func extensionFor(src string) string {
	meta, _, _ := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	switch strings.TrimSuffix(meta, ";base64") {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// Exporter is the batch export unit.
type Exporter struct {
	archiver Archiver
	logger   *slog.Logger
}

func NewExporter(archiver Archiver, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{archiver: archiver, logger: logger}
}

// Export decodes every item and encodes one archive. Any failure fails the
// whole export and no archive is returned.
func (e *Exporter) Export(ctx context.Context, items []project.GalleryItem, archiveName string) (*Archive, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: nothing selected", ErrExportFailed)
	}

	names := EntryNames(items)
	files := make([]File, len(items))
	for i, it := range items {
		data, _, err := capture.DecodeDataURL(it.Src)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrExportFailed, it.ID, err)
		}
		files[i] = File{Name: names[i], Data: data}
	}

	folder := FolderName(archiveName)
	blob, err := e.archiver.Archive(ctx, folder, files)
	if err != nil {
		e.logger.Warn("archive encoding failed", "folder", folder, "entries", len(files), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	e.logger.Info("archive built",
		"folder", folder,
		"entries", len(files),
		"size", humanize.Bytes(uint64(len(blob))),
	)
	return &Archive{
		Name:    folder + ".zip",
		Folder:  folder,
		Entries: names,
		Data:    blob,
	}, nil
}
