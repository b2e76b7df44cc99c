package handlers

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Proxy streams an allow-listed upstream asset through the server, so the
// headset can fetch provider CDN files without cross-origin trouble. Only
// hosts on the configured allow-list are reachable.
func (a *App) Proxy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "url is required")
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid url")
		return
	}
	if !a.hostAllowed(target.Hostname()) {
		a.error(w, http.StatusForbidden, "forbidden_host", "host is not on the allow-list")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid url")
		return
	}
	client := a.ProxyClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		a.error(w, http.StatusBadGateway, "upstream_error", "failed to fetch upstream asset")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		a.Logger.Warn().Err(err).Str("host", target.Hostname()).Msg("handlers: proxy stream interrupted")
	}
}

func (a *App) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range a.Config.ProxyAllowedHosts {
		if host == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
