package browserwindow

import (
	"github.com/xkilldash9x/browser-window/internal/future"
	"github.com/xkilldash9x/browser-window/internal/native"
)

// Cookie is a single HTTP cookie.
type Cookie = native.Cookie

// CookieJar is the thread-affine view of the engine-wide cookie store.
// Results arrive on the event loop thread.
type CookieJar struct {
	rt *Runtime
}

// Store saves cookie for url. Domains that are public suffixes are refused.
func (j *CookieJar) Store(url string, cookie Cookie) *Future[struct{}] {
	if err := j.rt.onOwner(); err != nil {
		return future.Failed[struct{}](err)
	}
	tx, f := future.Pending[struct{}]()
	j.rt.bridge.StoreCookie(url, cookie, func(err *native.Error) {
		if err != nil {
			tx.Fail(err)
			return
		}
		tx.Send(struct{}{})
	}, func(err error) { tx.Fail(err) })
	return f
}

// Iterate lists the live cookies that would be sent to url.
func (j *CookieJar) Iterate(url string, includeHTTPOnly bool) *Future[[]Cookie] {
	if err := j.rt.onOwner(); err != nil {
		return future.Failed[[]Cookie](err)
	}
	tx, f := future.Pending[[]Cookie]()
	j.rt.bridge.IterateCookies(url, includeHTTPOnly, func(cookies []native.Cookie, err *native.Error) {
		if err != nil {
			tx.Fail(err)
			return
		}
		tx.Send(cookies)
	}, func(err error) { tx.Fail(err) })
	return f
}

// Delete removes the cookies named name that match url, or all matching
// cookies when name is empty. It resolves with the number removed.
func (j *CookieJar) Delete(url, name string) *Future[int] {
	if err := j.rt.onOwner(); err != nil {
		return future.Failed[int](err)
	}
	tx, f := future.Pending[int]()
	j.rt.bridge.DeleteCookies(url, name, func(deleted int) {
		tx.Send(deleted)
	}, func(err error) { tx.Fail(err) })
	return f
}

// CookieJarThreaded is the thread-safe view of the cookie store.
type CookieJarThreaded struct {
	rt *Runtime
}

func (j *CookieJarThreaded) local() *CookieJar { return &CookieJar{rt: j.rt} }

// Store saves cookie for url from any goroutine.
func (j *CookieJarThreaded) Store(url string, cookie Cookie) *Future[struct{}] {
	return relay(j.rt, func(Application) *Future[struct{}] {
		return j.local().Store(url, cookie)
	})
}

// Iterate lists the cookies for url from any goroutine.
func (j *CookieJarThreaded) Iterate(url string, includeHTTPOnly bool) *Future[[]Cookie] {
	return relay(j.rt, func(Application) *Future[[]Cookie] {
		return j.local().Iterate(url, includeHTTPOnly)
	})
}

// Delete removes cookies from any goroutine.
func (j *CookieJarThreaded) Delete(url, name string) *Future[int] {
	return relay(j.rt, func(Application) *Future[int] {
		return j.local().Delete(url, name)
	})
}
