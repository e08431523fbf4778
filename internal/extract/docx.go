package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultBody  = "word/document.xml"
	contentTypesPath = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t>text</w:t>, with or without attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// Paragraph ends; each becomes a newline.
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	// An Override element for the main document part, in either attribute order.
	overrideRe = regexp.MustCompile(`<Override[^>]*>`)
	partNameRe = regexp.MustCompile(`PartName="([^"]+)"`)
)

// extractDOCX pulls the <w:t> runs out of the main document part, one line
// per paragraph. The part name comes from [Content_Types].xml when present.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	body := docxDefaultBody
	if types, err := readZipEntry(zr, contentTypesPath); err == nil {
		if p := mainPartName(string(types)); p != "" {
			body = p
		}
	}
	docXML, err := readZipEntry(zr, body)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}

	var b strings.Builder
	for _, para := range paragraphEnd.Split(string(docXML), -1) {
		var line []string
		for _, m := range wtTag.FindAllStringSubmatch(para, -1) {
			if s := strings.TrimSpace(m[1]); s != "" {
				line = append(line, s)
			}
		}
		if len(line) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(line, " "))
	}
	return b.String(), nil
}

func mainPartName(types string) string {
	for _, o := range overrideRe.FindAllString(types, -1) {
		if !strings.Contains(o, `ContentType="`+docxMainType+`"`) {
			continue
		}
		if m := partNameRe.FindStringSubmatch(o); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return ""
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}
