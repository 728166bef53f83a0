package browserwindow

import (
	"github.com/xkilldash9x/browser-window/internal/config"
	"github.com/xkilldash9x/browser-window/internal/native"
)

// Source is what a new window loads first.
type Source struct {
	value string
	html  bool
}

// SourceURL loads a URL.
func SourceURL(url string) Source { return Source{value: url} }

// SourceHTML renders an inline HTML document.
func SourceHTML(html string) Source { return Source{value: html, html: true} }

// BrowserBuilder configures a new browser window.
type BrowserBuilder struct {
	opts native.WindowOptions
}

// NewBrowserBuilder starts a builder for a window loading src, with an
// 800x600 bordered, resizable, minimizable and opaque frame.
func NewBrowserBuilder(src Source) *BrowserBuilder {
	return &BrowserBuilder{opts: native.WindowOptions{
		Width:        800,
		Height:       600,
		Borders:      true,
		Resizable:    true,
		Minimizable:  true,
		Opacity:      255,
		Source:       src.value,
		SourceIsHTML: src.html,
	}}
}

// NewBrowserBuilderFromConfig starts a builder with the window defaults of
// cfg.
func NewBrowserBuilderFromConfig(cfg config.WindowConfig, src Source) *BrowserBuilder {
	return NewBrowserBuilder(src).
		Title(cfg.Title).
		Size(cfg.Width, cfg.Height).
		Borders(cfg.Borders).
		Resizable(cfg.Resizable).
		Minimizable(cfg.Minimizable).
		Opacity(uint8(min(max(cfg.Opacity, 0), 255))).
		DevTools(cfg.DevTools)
}

// Title sets the window title.
func (bb *BrowserBuilder) Title(title string) *BrowserBuilder {
	bb.opts.Title = title
	return bb
}

// Size sets the inner size in pixels. Non-positive values keep the engine
// default.
func (bb *BrowserBuilder) Size(width, height int) *BrowserBuilder {
	bb.opts.Width, bb.opts.Height = max(width, 0), max(height, 0)
	return bb
}

// Borders toggles the window frame.
func (bb *BrowserBuilder) Borders(on bool) *BrowserBuilder {
	bb.opts.Borders = on
	return bb
}

// Resizable toggles user resizing.
func (bb *BrowserBuilder) Resizable(on bool) *BrowserBuilder {
	bb.opts.Resizable = on
	return bb
}

// Minimizable toggles the minimize control.
func (bb *BrowserBuilder) Minimizable(on bool) *BrowserBuilder {
	bb.opts.Minimizable = on
	return bb
}

// Opacity sets the window opacity, 255 being opaque.
func (bb *BrowserBuilder) Opacity(v uint8) *BrowserBuilder {
	bb.opts.Opacity = v
	return bb
}

// DevTools enables the developer tools.
func (bb *BrowserBuilder) DevTools(on bool) *BrowserBuilder {
	bb.opts.DevTools = on
	return bb
}

// Build creates the window. It must run on the event loop thread.
func (bb *BrowserBuilder) Build(app Application) (*Browser, error) {
	if err := app.rt.onOwner(); err != nil {
		return nil, err
	}
	win, err := app.rt.engine.CreateWindow(bb.opts)
	if err != nil {
		return nil, err
	}
	return &Browser{app: app, win: win}, nil
}

// BuildAsync creates the window from any goroutine. The resolved handle must
// be released; one that is dropped unawaited is released once collected.
func (bb *BrowserBuilder) BuildAsync(app ApplicationAsync) *Future[*BrowserThreaded] {
	opts := bb.opts
	return DispatchApp(app, func(a Application) (*BrowserThreaded, error) {
		win, err := a.rt.engine.CreateWindow(opts)
		if err != nil {
			return nil, err
		}
		return newBrowserThreaded(app, win), nil
	})
}
