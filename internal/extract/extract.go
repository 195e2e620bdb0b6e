// Package extract turns uploaded files into plain text for indexing. Text
// and code files pass through as-is, PDFs go through a text extractor, HTML
// is stripped to its visible text, and anything else gets a placeholder.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// previewLength caps the stored content preview.
const previewLength = 500

// textExtensions covers code and config formats that mime.TypeByExtension
// does not classify as text.
var textExtensions = map[string]bool{
	".py":   true,
	".js":   true,
	".css":  true,
	".json": true,
	".md":   true,
	".txt":  true,
	".xml":  true,
	".yaml": true,
	".yml":  true,
	".ini":  true,
	".cfg":  true,
	".conf": true,
	".log":  true,
	".go":   true,
	".sh":   true,
}

// Result holds the extracted text and the detected MIME type of a file.
type Result struct {
	Content  string
	MimeType string
}

// Text extracts plain text from raw file bytes based on the filename's
// extension. Extraction never fails outright: unsupported or broken files
// yield a placeholder describing what could not be read.
func Text(filename string, data []byte) Result {
	ext := strings.ToLower(filepath.Ext(filename))
	mimeType := mime.TypeByExtension(ext)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	switch {
	case ext == ".pdf":
		content, err := pdfText(data)
		if err != nil {
			return Result{
				Content:  fmt.Sprintf("PDF file: %s (text extraction failed: %v)", filepath.Base(filename), err),
				MimeType: "application/pdf",
			}
		}
		return Result{Content: content, MimeType: "application/pdf"}

	case ext == ".html" || ext == ".htm":
		content, err := htmlText(data)
		if err != nil {
			return Result{
				Content:  fmt.Sprintf("HTML file: %s (parsing failed: %v)", filepath.Base(filename), err),
				MimeType: "text/html",
			}
		}
		return Result{Content: content, MimeType: "text/html"}

	case strings.HasPrefix(mimeType, "text/") || textExtensions[ext]:
		return Result{Content: decodeText(data), MimeType: mimeType}

	default:
		return Result{
			Content:  fmt.Sprintf("Binary file: %s (%s)", filepath.Base(filename), mimeType),
			MimeType: mimeType,
		}
	}
}

// decodeText interprets raw bytes as UTF-8, dropping invalid sequences.
func decodeText(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}

// pdfText concatenates the plain text of every page. The parser panics on
// some malformed files so extraction runs under recover.
func pdfText(data []byte) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	text, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// htmlText strips markup and returns the visible text, skipping script and
// style bodies.
func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), nil
}

// Normalize prepares extracted text for search: control characters are
// removed and blank lines collapsed, leaving one trimmed line per line of
// content.
func Normalize(content string) string {
	if content == "" {
		return ""
	}

	var cleaned strings.Builder
	cleaned.Grow(len(content))
	for _, r := range content {
		if r >= 32 || r == '\n' || r == '\t' {
			cleaned.WriteRune(r)
		}
	}

	lines := strings.Split(cleaned.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "\n")
}

// Preview returns the head of the content for list views.
func Preview(content string) string {
	if len(content) <= previewLength {
		return content
	}
	return content[:previewLength]
}
