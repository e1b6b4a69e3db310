package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrNoKey is returned when no client key could be derived from a request.
var ErrNoKey = errors.New("no client key in request")

// KeyFunc derives the client key an engine tracks state under. Typical
// keys are the client IP, an API key header or a bearer token.
type KeyFunc func(*http.Request) (string, error)

// KeyByIP keys on the connection's remote address, port stripped.
func KeyByIP() KeyFunc {
	return func(r *http.Request) (string, error) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if ip == "" {
			return "", fmt.Errorf("%w: empty remote address", ErrNoKey)
		}
		return "ip:" + ip, nil
	}
}

// KeyByIPBehindProxy keys on the original client IP when the service sits
// behind a reverse proxy: X-Forwarded-For first, then X-Real-IP, then the
// connection's remote address. Only use this when the proxy is trusted,
// since the headers are client-controlled otherwise.
func KeyByIPBehindProxy() KeyFunc {
	direct := KeyByIP()
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// first entry is the original client
			first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
			if first != "" {
				return "ip:" + first, nil
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return "ip:" + xri, nil
		}
		return direct(r)
	}
}

// KeyByHeader keys on the value of one request header, e.g. X-API-Key.
func KeyByHeader(name string) KeyFunc {
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(name)
		if value == "" {
			return "", fmt.Errorf("%w: header %s missing or empty", ErrNoKey, name)
		}
		return fmt.Sprintf("header:%s:%s", name, value), nil
	}
}

// KeyByBearerToken keys on the token in an "Authorization: Bearer <token>"
// header.
func KeyByBearerToken() KeyFunc {
	return func(r *http.Request) (string, error) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return "", fmt.Errorf("%w: no Authorization header", ErrNoKey)
		}
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", fmt.Errorf("%w: malformed bearer token", ErrNoKey)
		}
		return "bearer:" + parts[1], nil
	}
}

// KeyByCookie keys on the value of one cookie, e.g. a session id.
func KeyByCookie(name string) KeyFunc {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(name)
		if err != nil || cookie.Value == "" {
			return "", fmt.Errorf("%w: cookie %s missing or empty", ErrNoKey, name)
		}
		return fmt.Sprintf("cookie:%s:%s", name, cookie.Value), nil
	}
}

// KeyStatic keys every request under the same name, so all clients share
// one budget. Useful for a global ceiling in front of an expensive
// backend.
func KeyStatic(key string) KeyFunc {
	return func(*http.Request) (string, error) {
		if key == "" {
			return "", fmt.Errorf("%w: static key is empty", ErrNoKey)
		}
		return key, nil
	}
}

// KeyChain tries each KeyFunc in order and uses the first that produces a
// key. A common chain is API key first, client IP as the fallback for
// anonymous traffic.
func KeyChain(funcs ...KeyFunc) KeyFunc {
	return func(r *http.Request) (string, error) {
		var lastErr error
		for _, fn := range funcs {
			key, err := fn(r)
			if err == nil && key != "" {
				return key, nil
			}
			lastErr = err
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", ErrNoKey
	}
}

// ParseKeyFunc builds a KeyFunc from a config string:
//
//	"ip"              KeyByIP
//	"ip-proxy"        KeyByIPBehindProxy
//	"header:X-API-Key" KeyByHeader("X-API-Key")
//	"bearer"          KeyByBearerToken
//	"cookie:session"  KeyByCookie("session")
//	"static:global"   KeyStatic("global")
func ParseKeyFunc(config string) (KeyFunc, error) {
	parts := strings.SplitN(config, ":", 2)
	switch parts[0] {
	case "ip":
		return KeyByIP(), nil
	case "ip-proxy":
		return KeyByIPBehindProxy(), nil
	case "bearer":
		return KeyByBearerToken(), nil
	case "header":
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("key extractor %q needs a header name, e.g. header:X-API-Key", config)
		}
		return KeyByHeader(parts[1]), nil
	case "cookie":
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("key extractor %q needs a cookie name, e.g. cookie:session", config)
		}
		return KeyByCookie(parts[1]), nil
	case "static":
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("key extractor %q needs a key, e.g. static:global", config)
		}
		return KeyStatic(parts[1]), nil
	default:
		return nil, fmt.Errorf("unknown key extractor %q", config)
	}
}
