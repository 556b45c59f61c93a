package userdir

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	aerrors "go.hackfix.me/tilde/app/errors"
)

// Handler returns an HTTP handler serving the given tree. It must be mounted
// on a route with a "username" URL parameter and a trailing wildcard, e.g.
// "/~{username}/*". basePath is the route prefix preceding the username, e.g.
// "/~".
func (rt *Router) Handler(tree Tree, basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := urlParam(r, "username")
		if err != nil {
			rt.writeError(w, r, aerrors.WithCause(ErrPathRejected, err))
			return
		}
		rel, err := urlParam(r, "*")
		if err != nil {
			rt.writeError(w, r, aerrors.WithCause(ErrPathRejected, err, "username", username))
			return
		}

		resp, err := rt.Serve(r.Context(), Request{
			Username: username,
			Tree:     tree,
			Path:     rel,
			BaseURL:  basePath + username + "/",
		})
		if err != nil {
			rt.writeError(w, r, err)
			return
		}

		rt.writeResponse(w, r, resp)
	}
}

// RedirectToRoot redirects "/~user" style requests to the tree root.
func RedirectToRoot(basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := urlParam(r, "username")
		if err != nil {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		loc := &url.URL{Path: basePath + username + "/"}
		w.Header().Set("Location", loc.EscapedPath())
		w.WriteHeader(http.StatusMovedPermanently)
	}
}

func (rt *Router) writeResponse(w http.ResponseWriter, r *http.Request, resp *Response) {
	switch resp.Kind {
	case KindRedirect:
		w.Header().Set("Location", resp.Location)
		w.WriteHeader(resp.StatusCode)
	case KindListing:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		if r.Method != http.MethodHead {
			if _, err := w.Write(resp.Body); err != nil {
				rt.logger.Debug("failed writing listing", "error", err.Error())
			}
		}
	case KindFile:
		defer resp.Content.Close()
		// A zero modification time omits caching headers.
		http.ServeContent(w, r, resp.Name, time.Time{}, io.NewSectionReader(resp.Content, 0, resp.Size))
	}
}

// writeError logs err and responds with a generic message for its status
// code. Error details are never sent to the client.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	logger := rt.logger.With("method", r.Method, "url", r.URL.String(), "status", status)
	if status >= http.StatusInternalServerError {
		aerrors.Log(logger, err)
	} else {
		logger.Debug(err.Error(), aerrors.Fields(err)...)
	}

	http.Error(w, http.StatusText(status), status)
}

// urlParam returns the unescaped value of a route parameter. chi matches
// against the raw path when it differs from the decoded one, e.g. with encoded
// slashes, in which case the parameters are still escaped.
func urlParam(r *http.Request, key string) (string, error) {
	p := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return p, nil
	}
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return "", errors.New("invalid path escape")
	}
	return unescaped, nil
}
