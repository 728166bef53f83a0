package chromeengine

import (
	"context"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/browser-window/internal/native"
)

// jar maps the cookie operations onto the Network domain of the browser-level
// target. Requests run on the browser worker and answer on the loop.
type jar struct {
	engine *Engine
}

func (j *jar) submit(fail func(error), job func(ctx context.Context)) {
	_, browser, err := j.engine.root()
	if err != nil {
		j.engine.post(func() { fail(err) })
		return
	}
	if !browser.submit(job) {
		j.engine.post(func() { fail(native.ErrEngineFinished) })
	}
}

func (j *jar) Store(rawURL string, c native.Cookie, cb native.StoreFunc, token native.Token) {
	fail := func(err error) { cb(token, native.WrapError(native.CodeCookie, err)) }

	n, err := native.NormalizeCookie(rawURL, c)
	if err != nil {
		j.engine.post(func() { fail(err) })
		return
	}
	j.submit(fail, func(ctx context.Context) {
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			p := network.SetCookie(n.Name, n.Value).
				WithURL(rawURL).
				WithDomain(n.Domain).
				WithPath(n.Path).
				WithSecure(n.Secure).
				WithHTTPOnly(n.HTTPOnly)
			if !n.Expires.IsZero() {
				exp := cdp.TimeSinceEpoch(n.Expires)
				p = p.WithExpires(&exp)
			}
			return p.Do(ctx)
		}))
		var nerr *native.Error
		if err != nil {
			nerr = native.WrapError(native.CodeCookie, err)
		}
		j.engine.post(func() { cb(token, nerr) })
	})
}

func (j *jar) Iterate(rawURL string, includeHTTPOnly bool, cb native.IterateFunc, token native.Token) {
	fail := func(err error) { cb(token, nil, native.WrapError(native.CodeCookie, err)) }
	j.submit(fail, func(ctx context.Context) {
		cookies, err := fetchCookies(ctx, rawURL)
		if err != nil {
			j.engine.post(func() { fail(err) })
			return
		}
		out := make([]native.Cookie, 0, len(cookies))
		for _, c := range cookies {
			if c.HTTPOnly && !includeHTTPOnly {
				continue
			}
			out = append(out, c)
		}
		j.engine.post(func() { cb(token, out, nil) })
	})
}

func (j *jar) Delete(rawURL, name string, cb native.DeleteFunc, token native.Token) {
	j.submit(func(error) { cb(token, 0) }, func(ctx context.Context) {
		cookies, err := fetchCookies(ctx, rawURL)
		deleted := 0
		if err == nil {
			for _, c := range cookies {
				if name != "" && c.Name != name {
					continue
				}
				err := chromedp.Run(ctx, network.DeleteCookies(c.Name).WithURL(rawURL).WithDomain(c.Domain).WithPath(c.Path))
				if err == nil {
					deleted++
				}
			}
		}
		j.engine.post(func() { cb(token, deleted) })
	})
}

func fetchCookies(ctx context.Context, rawURL string) ([]native.Cookie, error) {
	var raw []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := make([]native.Cookie, 0, len(raw))
	for _, c := range raw {
		nc := native.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		// Session cookies report a negative expiry.
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			nc.Expires = time.Unix(int64(sec), int64(frac*1e9))
		}
		out = append(out, nc)
	}
	return out, nil
}
