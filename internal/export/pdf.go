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

// PDFRenderer prints HTML to PDF with headless Chrome. With a remote URL it
// attaches to an already running browser (ws:// or http:// devtools
// endpoint); otherwise it launches a local Chromium.
type PDFRenderer struct {
	remoteURL string
	timeout   time.Duration
}

func NewPDFRenderer(remoteURL string) *PDFRenderer {
	return &PDFRenderer{remoteURL: remoteURL, timeout: 30 * time.Second}
}

// Roster renders the roster to a PDF file.
func (r *PDFRenderer) Roster(ctx context.Context, data RosterData) (*Result, error) {
	html, err := RenderRosterHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render roster: %w", err)
	}
	pdf, err := r.Print(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     pdf,
		Filename: sanitizeFilename(data.Title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// Print converts HTML to PDF.
func (r *PDFRenderer) Print(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if r.remoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, r.remoteURL)
	} else {
		if !chromiumInstalled() {
			return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
		}
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}
	defer allocCancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(html)

	var pdfData []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27). // A4
				WithPaperHeight(11.69).
				WithMarginTop(0.6).
				WithMarginBottom(0.6).
				WithMarginLeft(0.6).
				WithMarginRight(0.6).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}
	return pdfData, nil
}

func chromiumInstalled() bool {
	for _, bin := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if _, err := exec.LookPath(bin); err == nil {
			return true
		}
	}
	return false
}

// percentEncodeForDataURL encodes everything outside the RFC 3986
// unreserved set; spaces become %20, never +.
func percentEncodeForDataURL(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// sanitizeFilename keeps letters and digits (any script), hyphens and
// underscores; spaces become hyphens.
func sanitizeFilename(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n >= 50 {
			break
		}
		switch {
		case r == ' ':
			b.WriteRune('-')
		case r == '-', r == '_', r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r > 0x2E80:
			b.WriteRune(r)
		default:
			continue
		}
		n++
	}
	if b.Len() == 0 {
		return "roster"
	}
	return b.String()
}
