package services

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPDFOptions(t *testing.T) {
	opts := DefaultPDFOptions()
	assert.Equal(t, "portrait", opts.PageOrientation)
	assert.Equal(t, "A4", opts.PageSize)
	assert.Equal(t, 54, opts.MarginTop)
	assert.Equal(t, 54, opts.MarginLeft)

	w, h := opts.paperSize()
	assert.Equal(t, 8.27, w)
	assert.Equal(t, 11.69, h)

	opts.PageOrientation = "landscape"
	opts.PageSize = "letter"
	w, h = opts.paperSize()
	assert.Equal(t, 11.0, w)
	assert.Equal(t, 8.5, h)
}

func TestChromePDFRendererSmoke(t *testing.T) {
	// Needs a real Chrome; CI images without one skip
	chromePath := os.Getenv("CHROME_PATH")
	if chromePath == "" {
		t.Skip("Skipping PDF generation test: CHROME_PATH not set")
	}

	renderer := NewChromePDFRenderer(chromePath)
	pdf, err := renderer.RenderPDF(context.Background(), "<h1>Hello World</h1>")
	if err != nil {
		if os.IsNotExist(err) {
			t.Skipf("Skipping: Chrome not found at %s", chromePath)
		}
		t.Errorf("RenderPDF failed: %v", err)
		return
	}

	assert.True(t, len(pdf) > 0)
	assert.Contains(t, string(pdf[:5]), "%PDF-")
}
