// Package pdftext extracts plain text from PDFs in the local Zotero storage
// tree, where each attachment lives in a folder named after its item key.
package pdftext

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoPDF means the attachment folder is missing or holds no PDF. Callers
// skip such items rather than failing the run.
var ErrNoPDF = errors.New("no pdf found for attachment")

// ExtractAttachment finds the first PDF under <storagePath>/<attachmentKey>
// and returns its text.
func ExtractAttachment(storagePath, attachmentKey string) (string, error) {
	folder := filepath.Join(storagePath, attachmentKey)
	if _, err := os.Stat(folder); err != nil {
		return "", ErrNoPDF
	}
	matches, err := filepath.Glob(filepath.Join(folder, "*.pdf"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoPDF
	}
	return ExtractFile(matches[0])
}

// ExtractFile extracts the text of every readable page. Pages that fail to
// parse are skipped so one bad page does not drop a whole paper.
func ExtractFile(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var builder strings.Builder
	numPages := reader.NumPage()
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// WordCount reports whitespace-delimited words, used for run statistics.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
