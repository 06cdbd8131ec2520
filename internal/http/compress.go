package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/labstack/echo/v4"
)

// compressMiddleware compresses responses with zstd, brotli or gzip,
// whichever the client accepts first in that order. Responses that already
// carry a Content-Encoding pass through untouched.
func compressMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			enc := negotiateEncoding(parseAcceptEncoding(c.Request().Header.Get(echo.HeaderAcceptEncoding)))
			if enc == "" {
				return next(c)
			}

			res := c.Response()
			cw := &compressWriter{ResponseWriter: res.Writer, encoding: enc}
			res.Writer = cw
			defer func() {
				cw.finish()
				res.Writer = cw.ResponseWriter
			}()
			return next(c)
		}
	}
}

// parseAcceptEncoding returns the set of encodings with a non-zero quality.
func parseAcceptEncoding(header string) map[string]bool {
	accepted := make(map[string]bool)
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if q = strings.TrimSpace(q); q == "0" || q == "0.0" || q == "0.00" || q == "0.000" {
				continue
			}
		}
		accepted[name] = true
	}
	return accepted
}

func negotiateEncoding(accepted map[string]bool) string {
	for _, enc := range []string{"zstd", "br", "gzip"} {
		if accepted[enc] {
			return enc
		}
	}
	return ""
}

type compressWriter struct {
	http.ResponseWriter
	encoding     string
	writer       io.WriteCloser
	headerSent   bool
	skipCompress bool
}

func (cw *compressWriter) WriteHeader(code int) {
	cw.init(code)
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	cw.init(http.StatusOK)
	if cw.skipCompress {
		return cw.ResponseWriter.Write(b)
	}
	return cw.writer.Write(b)
}

// init decides once, before the first byte, whether to compress.
func (cw *compressWriter) init(code int) {
	if cw.headerSent {
		return
	}
	cw.headerSent = true

	h := cw.Header()
	if h.Get(echo.HeaderContentEncoding) != "" || code == http.StatusNoContent || code == http.StatusNotModified {
		cw.skipCompress = true
		return
	}

	h.Del(echo.HeaderContentLength)
	h.Set(echo.HeaderContentEncoding, cw.encoding)
	h.Add(echo.HeaderVary, echo.HeaderAcceptEncoding)

	switch cw.encoding {
	case "zstd":
		enc, _ := zstd.NewWriter(cw.ResponseWriter, zstd.WithEncoderLevel(zstd.SpeedFastest))
		cw.writer = enc
	case "br":
		cw.writer = brotli.NewWriterLevel(cw.ResponseWriter, 1)
	case "gzip":
		gz, _ := gzip.NewWriterLevel(cw.ResponseWriter, gzip.BestSpeed)
		cw.writer = gz
	}
}

func (cw *compressWriter) finish() {
	if cw.writer == nil {
		return
	}
	_ = cw.writer.Close()
}

func (cw *compressWriter) Flush() {
	if cw.writer != nil {
		if f, ok := cw.writer.(interface{ Flush() error }); ok {
			_ = f.Flush()
		}
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (cw *compressWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
