package artifacts

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/shared/errs"
)

const (
	// maxDescribeBytes caps how much of an HTML artifact is read for
	// title and preview extraction.
	maxDescribeBytes = 4 * 1024 * 1024

	previewRunes = 280
)

// Meta describes a registered artifact. HTML artifacts additionally
// carry a detected charset, the document title, and a sanitized text
// preview.
type Meta struct {
	Key      string    `json:"key"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum,omitempty"`
	MIME     string    `json:"mime,omitempty"`
	AddedAt  time.Time `json:"added_at"`
	Charset  string    `json:"charset,omitempty"`
	Title    string    `json:"title,omitempty"`
	Preview  string    `json:"preview,omitempty"`
}

// Meta returns metadata for key, extracting HTML details on demand.
func (s *Store) Meta(key string) (Meta, error) {
	r, err := s.Lookup(key)
	if err != nil {
		return Meta{}, errs.NotFoundf("artifact route %s", key)
	}

	m := Meta{
		Key:      r.Key,
		Path:     r.Path,
		Size:     r.Size,
		Checksum: r.Checksum,
		MIME:     r.MIME,
		AddedAt:  r.AddedAt,
	}
	if strings.HasPrefix(r.MIME, "text/html") {
		s.describeHTML(&m)
	}
	return m, nil
}

// describeHTML fills charset, title, and preview from the backing file.
// Extraction failures leave the fields empty rather than failing Meta.
func (s *Store) describeHTML(m *Meta) {
	data, err := readHead(m.Path, maxDescribeBytes)
	if err != nil {
		s.logger.Debug("artifact html read failed", zap.String("key", m.Key), zap.Error(err))
		return
	}

	m.Charset = detectCharset(data)
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data)); err == nil {
		m.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	m.Preview = clipPreview(s.sanitizer.SanitizeBytes(data))
}

// detectCharset returns the best-guess charset, defaulting to utf-8.
func detectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

func readHead(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, n))
}

// clipPreview collapses whitespace in sanitized text and truncates it
// for display.
func clipPreview(text []byte) string {
	joined := strings.Join(strings.Fields(string(text)), " ")
	runes := []rune(joined)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes])
	}
	return joined
}
