package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/callback"
)

const (
	callbackListenAddress = "127.0.0.1:0"
	listenerShutdownGrace = 10 * time.Second
)

// outcome is what resolves a pending login: an authorization code or an error.
type outcome struct {
	code string
	err  error
}

// latch lets the first of several event sources resolve a login. Later
// resolutions are ignored.
type latch struct {
	once sync.Once
	ch   chan outcome
}

func newLatch() *latch {
	return &latch{ch: make(chan outcome, 1)}
}

func (l *latch) resolve(o outcome) bool {
	won := false
	l.once.Do(func() {
		l.ch <- o
		won = true
	})
	return won
}

// PendingLogin is an interactive login waiting for the browser redirect.
//
// Exactly one of the redirect, the timeout, Cancel or the cancellation of the
// context passed to Login resolves it. The loopback listener is closed before
// Done is closed.
type PendingLogin struct {
	// URL is the authorize URL the user has to open.
	URL string

	// RedirectURI is the loopback callback URL the provider redirects to.
	RedirectURI string

	p        *PKCE
	verifier string
	srv      *callback.Server
	latch    *latch
	timer    *time.Timer
	stopCtx  func() bool

	// appExited is set when the result waits for the launched app to exit.
	appExited <-chan error

	exchanged chan struct{}
	done      chan struct{}

	result *LoginResult
	err    error
}

func (p *PKCE) startInteractive(ctx context.Context, opts LoginOptions) (*PendingLogin, error) {
	timeout := p.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	pl := &PendingLogin{
		p:         p,
		verifier:  oauth2.GenerateVerifier(),
		latch:     newLatch(),
		exchanged: make(chan struct{}),
		done:      make(chan struct{}),
	}

	callbackPath := "/callback/" + uuid.NewString()
	pl.srv = callback.New(callbackPath, http.HandlerFunc(pl.handleRedirect), callback.WithLogger(p.logger))

	errCh, err := pl.srv.Start(ctx, callbackListenAddress)
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeAuthFailed, err, "Authentication failed: %v", err)
	}

	pl.RedirectURI = pl.srv.RedirectURL()
	pl.URL = p.authorizeURL(oauth2.S256ChallengeFromVerifier(pl.verifier), pl.RedirectURI)

	pl.timer = time.AfterFunc(timeout, func() {
		pl.latch.resolve(outcome{err: autherr.New(autherr.CodeTimeout, "Authentication failed: Timed out")})
	})
	pl.stopCtx = context.AfterFunc(ctx, func() {
		pl.latch.resolve(outcome{err: contextOutcome(ctx.Err())})
	})
	go func() {
		for err := range errCh {
			pl.latch.resolve(outcome{err: autherr.Wrap(autherr.CodeAuthFailed, err, "Authentication failed: %v", err)})
		}
	}()

	p.logger.InfoContext(ctx, "waiting for authorization redirect",
		"redirect_uri", pl.RedirectURI, "timeout", timeout, "manual", opts.Manual)

	if opts.OnURL != nil {
		opts.OnURL(pl.URL)
	}
	if !opts.Manual {
		pl.launch(ctx, opts)
	}

	go pl.run(ctx)
	return pl, nil
}

// launch opens the browser. A failed launch is logged and the login keeps
// waiting, since the user can still open the URL by hand.
func (pl *PendingLogin) launch(ctx context.Context, opts LoginOptions) {
	exited, err := launchBrowser(ctx, opts.App, pl.URL)
	if err != nil {
		pl.p.logger.WarnContext(ctx, "could not open browser, open the URL manually", "url", pl.URL, "error", err)
		return
	}
	if opts.Wait {
		pl.appExited = exited
	}
}

func contextOutcome(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return autherr.Wrap(autherr.CodeTimeout, err, "Authentication failed: Timed out")
	}
	return autherr.Wrap(autherr.CodeCancelled, err, "Authentication cancelled")
}

// handleRedirect validates the redirect before resolving the login so that a
// malformed redirect never reaches the token endpoint. The response is held
// until the code has been exchanged, so the page reflects the real outcome.
func (pl *PendingLogin) handleRedirect(w http.ResponseWriter, r *http.Request) {
	q := callback.Query(r)

	var o outcome
	switch {
	case q.Get("error") != "":
		reason := q.Get("error_description")
		if reason == "" {
			reason = q.Get("error")
		}
		o.err = autherr.AuthFailed(reason)
	case q.Get("code") == "":
		o.err = autherr.InvalidArgument(errEmptyCode)
	default:
		o.code = q.Get("code")
	}

	if !pl.latch.resolve(o) {
		callback.RenderError(w, http.StatusConflict, "Login already completed",
			"This login request has already been handled. You can close this window.")
		return
	}
	if o.err != nil {
		callback.RenderError(w, http.StatusBadRequest, "Authentication failed", o.err.Error())
		return
	}

	select {
	case <-pl.exchanged:
	case <-r.Context().Done():
		return
	}
	if pl.err != nil {
		callback.RenderError(w, http.StatusBadGateway, "Authentication failed", pl.err.Error())
		return
	}
	callback.RenderSuccess(w)
}

// run waits for the latch, tears down the timer and the listener, and
// exchanges the code when one was received.
func (pl *PendingLogin) run(ctx context.Context) {
	o := <-pl.latch.ch
	pl.timer.Stop()
	pl.stopCtx()

	// Shutdown closes the listener right away and returns once the redirect
	// handler has written its page.
	shutdown := make(chan struct{})
	go func() {
		defer close(shutdown)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listenerShutdownGrace)
		defer cancel()
		if err := pl.srv.Shutdown(sctx); err != nil {
			pl.p.logger.WarnContext(ctx, "callback listener shutdown failed", "error", err)
		}
	}()

	if o.err != nil {
		pl.err = o.err
	} else {
		rec, err := pl.p.exchangeCode(ctx, o.code, pl.verifier, pl.RedirectURI)
		if err != nil {
			pl.err = err
		} else {
			pl.result = loginResultFromRecord(rec)
		}
	}
	close(pl.exchanged)

	<-shutdown
	if pl.appExited != nil {
		select {
		case err := <-pl.appExited:
			if err != nil {
				pl.p.logger.DebugContext(ctx, "browser app exited", "error", err)
			}
		case <-ctx.Done():
		}
	}
	close(pl.done)
}

// Done is closed once the login has resolved and the listener is closed (and,
// with LoginOptions.Wait, the launched app has exited).
func (pl *PendingLogin) Done() <-chan struct{} {
	return pl.done
}

// Wait blocks until the login resolves. If ctx ends first the login is cancelled.
func (pl *PendingLogin) Wait(ctx context.Context) (*LoginResult, error) {
	select {
	case <-pl.done:
	case <-ctx.Done():
		pl.latch.resolve(outcome{err: contextOutcome(ctx.Err())})
		<-pl.done
	}
	return pl.result, pl.err
}

// Cancel aborts the login without contacting the token endpoint and returns
// once the listener is closed. It is a no-op once the login has resolved.
func (pl *PendingLogin) Cancel() {
	if pl.latch.resolve(outcome{err: autherr.New(autherr.CodeCancelled, "Authentication cancelled")}) {
		<-pl.done
	}
}
