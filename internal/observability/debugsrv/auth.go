package debugsrv

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
)

var errInsecureBind = errors.New("debug server refused to start: insecure bind")

// checkBind refuses a non-loopback listen address that has neither a token
// nor an explicit allow_insecure. insecure reports the allowed-but-open case.
func checkBind(addr string, cfg Config) (insecure bool, err error) {
	if isLoopbackAddr(addr) || cfg.Token != "" {
		return false, nil
	}
	if !cfg.AllowInsecure {
		return false, errInsecureBind
	}
	return true, nil
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host = strings.TrimSpace(host); {
	case host == "":
		return false // all interfaces
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>. An empty
// token disables the check.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}
