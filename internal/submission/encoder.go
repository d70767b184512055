package submission

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"vsoportal/internal/models"
)

// maxConcurrentReads bounds the file reads of one submission.
const maxConcurrentReads = 4

// Selection is a batch of files added under one document type.
type Selection struct {
	Type  models.DocumentType
	Files []File
}

type encodeJob struct {
	name string
	typ  models.DocumentType
	file File
}

// DisplayNames returns the webhook name of every file in selection order. The
// first file of a type is named after the type, later ones get " (n)".
func DisplayNames(selections []Selection) []string {
	counts := make(map[models.DocumentType]int)
	var names []string
	for _, sel := range selections {
		for range sel.Files {
			n := counts[sel.Type]
			counts[sel.Type] = n + 1
			if n == 0 {
				names = append(names, string(sel.Type))
			} else {
				names = append(names, fmt.Sprintf("%s (%d)", sel.Type, n))
			}
		}
	}
	return names
}

// Encode reads every file concurrently and returns the documents in
// selection order. The first read error cancels the remaining reads.
func Encode(ctx context.Context, selections []Selection) ([]models.ProcessedDocument, error) {
	names := DisplayNames(selections)
	jobs := make([]encodeJob, 0, len(names))
	for _, sel := range selections {
		for _, f := range sel.Files {
			jobs = append(jobs, encodeJob{name: names[len(jobs)], typ: sel.Type, file: f})
		}
	}

	docs := make([]models.ProcessedDocument, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			content, err := readBase64(gctx, job.file)
			if err != nil {
				return fmt.Errorf("read %s: %w", job.file.Name(), err)
			}
			docs[i] = models.ProcessedDocument{
				Name:         job.name,
				OriginalName: job.file.Name(),
				Type:         job.typ,
				MimeType:     job.file.MimeType(),
				FileContent:  content,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func readBase64(ctx context.Context, f File) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if src, ok := f.(base64Source); ok {
		s, err := src.Base64()
		if err != nil {
			return "", err
		}
		return StripDataURIPrefix(strings.TrimSpace(s)), nil
	}

	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ctxReader stops a read loop once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
