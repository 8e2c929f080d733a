package pipeline

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

// textExtensions load as plain text. Code files are included so repository
// snapshots can be ingested alongside CVs and project writeups.
var textExtensions = map[string]bool{
	".txt":   true,
	".py":    true,
	".js":    true,
	".ts":    true,
	".html":  true,
	".css":   true,
	".ipynb": true,
	".go":    true,
}

var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// Loader reads supported files from the corpus tree and produces normalized
// Documents. The first level subdirectory under the root carries the
// category (e.g. CV, projects, repos).
type Loader struct {
	log *slog.Logger
}

// NewLoader creates a loader logging through the given logger.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{log: logger}
}

// Supported reports whether the file extension has an extractor.
func (l *Loader) Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return textExtensions[ext] || markdownExtensions[ext] || ext == ".pdf" || ext == ".docx"
}

// LoadFile extracts plain text from one file below root. Unsupported formats
// fail with UnsupportedFormat, empty documents with EmptyDocument; both are
// per-document conditions that must not abort a batch.
func (l *Loader) LoadFile(root, path string) (*model.Document, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, helper.NewError("resolve relative path", err)
	}
	rel = filepath.ToSlash(rel)

	category := ""
	if idx := strings.Index(rel, "/"); idx > 0 {
		category = rel[:idx]
	}

	ext := strings.ToLower(filepath.Ext(path))
	var text string
	switch {
	case textExtensions[ext]:
		text, err = l.extractPlainText(path)
	case markdownExtensions[ext]:
		text, err = l.extractMarkdown(path)
	case ext == ".pdf":
		text, err = l.extractPDF(path)
	case ext == ".docx":
		text, err = l.extractDOCX(path)
	default:
		return nil, helper.NewKindError(helper.KindUnsupportedFormat, "load file",
			fmt.Errorf("no extractor for extension %q (%s)", ext, rel))
	}
	if err != nil {
		return nil, err
	}

	text = NormalizeText(text)
	if text == "" {
		return nil, helper.NewKindError(helper.KindEmptyDocument, "load file",
			fmt.Errorf("document %s is empty after normalization", rel))
	}

	l.log.Debug("Loaded document", slog.String("source", rel), slog.String("category", category))

	return &model.Document{
		ID:          model.NewDocumentID(category, rel),
		Source:      rel,
		Category:    category,
		Text:        text,
		ContentHash: model.HashText(text),
		Metadata: model.Metadata{
			"source":   rel,
			"category": category,
		},
		LoadedAt: time.Now().UTC(),
	}, nil
}

func (l *Loader) extractPlainText(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", helper.NewError("read file", err)
	}
	return string(content), nil
}

func (l *Loader) extractMarkdown(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", helper.NewError("read file", err)
	}
	return stripMarkdown(string(content)), nil
}

func (l *Loader) extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", helper.NewKindError(helper.KindUnsupportedFormat, "open pdf", err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", helper.NewKindError(helper.KindUnsupportedFormat, "extract pdf text", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", helper.NewError("read pdf text", err)
	}
	return buf.String(), nil
}

// extractDOCX reads word/document.xml from the DOCX archive and collects the
// text runs, inserting paragraph breaks.
func (l *Loader) extractDOCX(path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", helper.NewKindError(helper.KindUnsupportedFormat, "open docx", err)
	}
	defer reader.Close()

	var docFile *zip.File
	for _, file := range reader.File {
		if file.Name == "word/document.xml" {
			docFile = file
			break
		}
	}
	if docFile == nil {
		return "", helper.NewKindError(helper.KindUnsupportedFormat, "open docx", fmt.Errorf("word/document.xml not found in %s", path))
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", helper.NewError("open document.xml", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var sb strings.Builder
	inText := false
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", helper.NewKindError(helper.KindUnsupportedFormat, "parse document.xml", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
			if t.Name.Local == "p" {
				sb.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// NormalizeText canonicalizes line endings, collapses intra-line whitespace
// and reduces blank line runs to single paragraph breaks. Chunk identities
// depend on this being deterministic.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var paragraphs []string
	for _, block := range strings.Split(text, "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			line = strings.Join(strings.Fields(line), " ")
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

var (
	mdCodeFence = regexp.MustCompile("(?s)```.*?```")
	mdInline    = regexp.MustCompile("`([^`]*)`")
	mdImage     = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]*)\)`)
	mdLink      = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	mdHeading   = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdEmphasis  = regexp.MustCompile(`(\*\*|__|\*|_)([^*_]+)(\*\*|__|\*|_)`)
)

// stripMarkdown simplifies markdown formatting to plain text. Code fences
// survive as their content, links keep their label.
func stripMarkdown(text string) string {
	text = mdCodeFence.ReplaceAllStringFunc(text, func(block string) string {
		block = strings.TrimPrefix(block, "```")
		block = strings.TrimSuffix(block, "```")
		if idx := strings.Index(block, "\n"); idx >= 0 {
			block = block[idx+1:]
		}
		return block
	})
	text = mdInline.ReplaceAllString(text, "$1")
	text = mdImage.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdEmphasis.ReplaceAllString(text, "$2")
	return text
}
