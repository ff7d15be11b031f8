package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/klauspost/compress/zip"
)

// ZipArchiver encodes archives with klauspost's zip writer.
type ZipArchiver struct {
	// Modified is stamped on every entry. Zero means time.Now.
	Modified time.Time
}

func NewZipArchiver() *ZipArchiver {
	return &ZipArchiver{}
}

func (z *ZipArchiver) Archive(ctx context.Context, folder string, files []File) ([]byte, error) {
	modified := z.Modified
	if modified.IsZero() {
		modified = time.Now()
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return nil, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     path.Join(folder, f.Name),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("create entry %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("write entry %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}
