package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pdfTimeout = 30 * time.Second

// Letter paper with 0.75in margins on every side.
func printParams() *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(8.5).
		WithPaperHeight(11.0).
		WithMarginTop(0.75).
		WithMarginBottom(0.75).
		WithMarginLeft(0.75).
		WithMarginRight(0.75).
		WithPreferCSSPageSize(true)
}

// chromiumBinary reports whether a usable Chromium is on PATH.
func chromiumBinary() bool {
	for _, name := range []string{"chromium-browser", "chromium"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// exportPDF prints a rendered HTML page to PDF through headless Chrome. The
// page is handed over as a data URL so no temp file touches disk.
func exportPDF(html string, title string) (*Result, error) {
	if !chromiumBinary() {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var data []byte
	printPage := chromedp.ActionFunc(func(ctx context.Context) error {
		out, _, err := printParams().Do(ctx)
		if err != nil {
			return err
		}
		data = out
		return nil
	})
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("data:text/html;charset=utf-8,"+percentEncodeForDataURL(html)),
		chromedp.WaitReady("body"),
		printPage,
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}

	return &Result{
		Data:     data,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

const hexUpper = "0123456789ABCDEF"

// percentEncodeForDataURL percent-encodes everything outside the RFC 3986
// unreserved set. url.QueryEscape is unsuitable here: it turns spaces into
// '+', which a data URL consumer reads back literally.
func percentEncodeForDataURL(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
			out.WriteByte(b)
		case b == '-' || b == '_' || b == '.' || b == '~':
			out.WriteByte(b)
		default:
			out.WriteByte('%')
			out.WriteByte(hexUpper[b>>4])
			out.WriteByte(hexUpper[b&0x0f])
		}
	}
	return out.String()
}

// sanitizeFilename reduces a title to a safe download filename: letters and
// digits kept, spaces become dashes, everything else is removed.
func sanitizeFilename(title string) string {
	var out strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out.WriteRune(r)
		case r == ' ':
			out.WriteByte('-')
		}
	}
	name := out.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		return "note"
	}
	return name
}
