// Package attachment turns inline data-URI attachments into repository files.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

const base64Marker = "base64,"

var (
	// ErrNotDataURI is returned for attachments that reference remote content.
	ErrNotDataURI = errors.New("not a base64 data URI")
	// ErrUnsafeName is returned for names that escape the repository root.
	ErrUnsafeName = errors.New("unsafe attachment name")
)

// Decoder decodes a batch of attachments. A failing attachment is logged and
// skipped; it never fails the batch.
type Decoder struct {
	logger *logging.Logger
}

// NewDecoder creates a Decoder. A nil logger discards output.
func NewDecoder(logger *logging.Logger) *Decoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Decoder{logger: logger}
}

// Decode returns a file for every attachment that decodes cleanly.
func (d *Decoder) Decode(ctx context.Context, attachments []task.Attachment) []task.File {
	files := make([]task.File, 0, len(attachments))
	for _, a := range attachments {
		name, err := SafeName(a.Name)
		if err != nil {
			d.logger.Warn(ctx, "skipping attachment", zap.String("name", a.Name), zap.Error(err))
			continue
		}
		if !a.IsDataURI() {
			d.logger.Debug(ctx, "attachment is a remote reference, not publishing",
				zap.String("name", name))
			continue
		}
		content, mediaType, err := DecodeDataURI(a.URL)
		if err != nil {
			d.logger.Warn(ctx, "failed to decode attachment", zap.String("name", name), zap.Error(err))
			continue
		}
		files = append(files, task.File{Name: name, Content: content, MediaType: mediaType})
	}
	return files
}

// DecodeDataURI decodes a data:<media type>;base64,<payload> URI. Missing
// padding in the payload is repaired before decoding.
func DecodeDataURI(uri string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(uri, base64Marker)
	if !ok {
		return nil, "", ErrNotDataURI
	}
	mediaType := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(header), "data:"), ";")

	data, err := base64.StdEncoding.DecodeString(RepairPadding(strings.TrimSpace(payload)))
	if err != nil {
		return nil, mediaType, fmt.Errorf("decode base64 payload: %w", err)
	}
	return data, mediaType, nil
}

// RepairPadding appends '=' until the length is a multiple of four.
func RepairPadding(b64 string) string {
	if rem := len(b64) % 4; rem != 0 {
		b64 += strings.Repeat("=", 4-rem)
	}
	return b64
}

// SafeName cleans a relative file path and rejects anything absolute or
// escaping the repository root.
func SafeName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsafeName)
	}
	cleaned := path.Clean(strings.TrimPrefix(name, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	if cleaned == ".git" || strings.HasPrefix(cleaned, ".git/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return cleaned, nil
}
