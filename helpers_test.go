package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalPDF writes a one-page PDF showing text in Helvetica, with a
// correct xref table.
func minimalPDF(t *testing.T, text string) []byte {
	t.Helper()

	stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func minimalDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body strings.Builder
	for _, p := range paragraphs {
		fmt.Fprintf(&body, `<w:p><w:r><w:t>%s</w:t></w:r></w:p>`, p)
	}
	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body.String() + `</w:body></w:document>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestCleanMarkdown(t *testing.T) {
	table := "| Day | Topic |\n|---|---|\n| 1 | Intro |"

	assert.Equal(t, table, CleanMarkdown(table))
	assert.Equal(t, table, CleanMarkdown("```markdown\n"+table+"\n```"))
	assert.Equal(t, table, CleanMarkdown("```md\n"+table+"\n```"))
	assert.Equal(t, table, CleanMarkdown("\n```\n"+table+"\n```\n"))
}

func TestCleanMarkdown_FenceAfterPreamble(t *testing.T) {
	table := "| Day | Topic |\n|---|---|\n| 1 | Intro |"

	assert.Equal(t, table, CleanMarkdown("Here is your plan:\n```markdown\n"+table+"\n```\nGood luck!"))
	assert.Equal(t, table, CleanMarkdown("Sure.\r\n```md\r\n"+table+"\r\n```"))
	// An unterminated fence keeps everything after it.
	assert.Equal(t, table, CleanMarkdown("Plan:\n```\n"+table))
}

func TestExtractSyllabusText_PlainText(t *testing.T) {
	text, err := ExtractSyllabusText("syllabus.TXT", "", []byte("Unit 1: Limits\nUnit 2: Derivatives"))

	require.NoError(t, err)
	assert.Equal(t, "Unit 1: Limits\nUnit 2: Derivatives", text)
}

func TestExtractSyllabusText_InvalidUTF8IsReplaced(t *testing.T) {
	text, err := ExtractSyllabusText("notes.txt", "", []byte("ok\xffok"))

	require.NoError(t, err)
	assert.Equal(t, "ok�ok", text)
}

func TestExtractSyllabusText_FallsBackToMime(t *testing.T) {
	text, err := ExtractSyllabusText("upload", "text/plain; charset=utf-8", []byte("Chapter 1"))

	require.NoError(t, err)
	assert.Equal(t, "Chapter 1", text)
}

func TestExtractSyllabusText_Unsupported(t *testing.T) {
	_, err := ExtractSyllabusText("slides.pptx", "application/octet-stream", []byte("x"))

	assert.ErrorIs(t, err, ErrUnsupportedSyllabus)
	assert.False(t, SupportedSyllabus("slides.pptx", ""))
	assert.True(t, SupportedSyllabus("syllabus.pdf", ""))
}

func TestExtractSyllabusText_PDF(t *testing.T) {
	data := minimalPDF(t, "Thermodynamics Unit One")

	text, err := ExtractSyllabusText("course.pdf", "", data)

	require.NoError(t, err)
	assert.Contains(t, text, "Thermodynamics Unit One")
	assert.True(t, strings.HasSuffix(text, "\n"))
}

func TestExtractSyllabusText_CorruptPDF(t *testing.T) {
	_, err := ExtractSyllabusText("course.pdf", "", []byte("this is not a pdf"))

	assert.Error(t, err)
}

func TestExtractSyllabusText_Docx(t *testing.T) {
	data := minimalDocx(t, "Week 1: Sorting", "Week 2: Graphs &amp; Trees")

	text, err := ExtractSyllabusText("course.docx", "", data)

	require.NoError(t, err)
	assert.Equal(t, "Week 1: Sorting\nWeek 2: Graphs & Trees", text)
}

func TestDocxPlainText(t *testing.T) {
	xml := `<w:body><w:p><w:r><w:t>A</w:t><w:tab/><w:t>B</w:t></w:r></w:p><w:p></w:p><w:p><w:r><w:t>C</w:t><w:br/><w:t>D</w:t></w:r></w:p></w:body>`

	assert.Equal(t, "A\tB\nC\nD", docxPlainText(xml))
}

func TestPrepareSyllabus(t *testing.T) {
	text, loaded := PrepareSyllabus("  \n\t ")
	assert.False(t, loaded)
	assert.Equal(t, noSyllabusPrompt, text)

	text, loaded = PrepareSyllabus("Unit 1")
	assert.True(t, loaded)
	assert.Equal(t, "Unit 1", text)

	long := strings.Repeat("é", MaxSyllabusChars+50)
	text, loaded = PrepareSyllabus(long)
	assert.True(t, loaded)
	assert.Equal(t, MaxSyllabusChars, len([]rune(text)))
}

func TestDownloadFilename(t *testing.T) {
	assert.Equal(t, "Machine_Learning_study_plan.md", DownloadFilename("Machine Learning"))
	assert.Equal(t, "CS_101_study_plan.md", DownloadFilename(" CS 101 "))
	assert.Equal(t, "etcpasswd_study_plan.md", DownloadFilename("../etc/passwd"))
	assert.Equal(t, "study_plan.md", DownloadFilename("///"))
}
