package export

import (
	"fmt"

	"github.com/chromedp/chromedp"
)

// exportPNG renders HTML to a full-page PNG using headless Chrome.
// Quality 100 makes FullScreenshot emit PNG instead of JPEG.
func exportPNG(html string, filename string) (*Result, error) {
	taskCtx, cancels, dataURL, err := renderContext(html)
	if err != nil {
		return nil, err
	}
	for _, c := range cancels {
		defer c()
	}

	var pngData []byte
	err = chromedp.Run(taskCtx,
		chromedp.EmulateViewport(900, 1280),
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body"),
		chromedp.FullScreenshot(&pngData, 100),
	)

	if err != nil {
		return nil, fmt.Errorf("chrome screenshot failed: %w", err)
	}

	return &Result{
		Data:     pngData,
		Filename: filename + ".png",
		MimeType: "image/png",
	}, nil
}
