package portforward

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/kandev/sandboxd/internal/common/apperr"
)

// Proxy returns an http.Handler that forwards a request to the given
// exposed port's localhost listener, stripping stripPrefix from the
// incoming path before forwarding. Proxying bare TCP traffic between
// containers has no natural home in any third-party dependency this repo
// already carries, so this is the one place that reaches for the standard
// library's net/http/httputil instead of a pack library.
func (r *Registry) Proxy(stripPrefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		port, rest, err := splitProxyPath(stripPrefix, req.URL.Path)
		if err != nil {
			appErr := apperr.BadRequest(err.Error())
			w.WriteHeader(appErr.HTTPStatus)
			return
		}
		if _, err := r.Get(port); err != nil {
			w.WriteHeader(apperr.GetHTTPStatus(err))
			return
		}

		target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
		proxy := httputil.NewSingleHostReverseProxy(target)
		originalDirector := proxy.Director
		proxy.Director = func(req *http.Request) {
			originalDirector(req)
			req.URL.Path = rest
		}
		proxy.ServeHTTP(w, req)
	})
}

func splitProxyPath(stripPrefix, path string) (port int, rest string, err error) {
	trimmed := path
	if len(trimmed) >= len(stripPrefix) && trimmed[:len(stripPrefix)] == stripPrefix {
		trimmed = trimmed[len(stripPrefix):]
	}
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", fmt.Errorf("missing port in proxy path %q", path)
	}
	for j := 0; j < i; j++ {
		port = port*10 + int(trimmed[j]-'0')
	}
	rest = trimmed[i:]
	if rest == "" {
		rest = "/"
	}
	return port, rest, nil
}
