package log

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// MaskValue replaces a whole attribute value.
const MaskValue = "***REDACTED***"

// URLMaskValue replaces a password or query value inside a URL. It needs no
// escaping, so masked URLs stay readable.
const URLMaskValue = "REDACTED"

// secretKeys are attribute keys masked on exact (case-insensitive) match.
// They cover request headers a site config may set and session names that
// sites put in cookies.
var secretKeys = setOf(
	"authorization", "proxy-authorization", "cookie", "set-cookie",
	"x-api-key", "x-auth-token", "x-csrf-token",
	"api_key", "apikey", "api-key", "access_token", "refresh_token",
	"session", "session_id", "sessionid", "sid", "jsessionid", "phpsessid",
)

// secretKeyParts mask any key that contains one of them. "key" alone is
// left out: "primary_key" and "monkey" are not secrets.
var secretKeyParts = []string{
	"password", "passwd", "secret", "token", "auth", "credential", "cookie",
}

// secretQueryParams are query parameters masked inside logged URLs.
var secretQueryParams = setOf(
	"token", "access_token", "refresh_token", "id_token",
	"api_key", "apikey", "key", "password", "passwd", "secret",
	"session", "sessionid", "sid", "sig", "signature", "auth", "code",
)

// secretShapes match values masked whatever their key.
var secretShapes = []*regexp.Regexp{
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`), // JWT
	regexp.MustCompile(`(?i)^(bearer|basic)\s+\S+$`),
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}$`),
	regexp.MustCompile(`^[a-zA-Z0-9]{32,}$`),
	regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

// embeddedURL finds URLs inside free text such as error messages.
var embeddedURL = regexp.MustCompile(`(?i)\b(?:https?|socks5h?)://[^\s"'<>]+`)

// maskableSchemes are the URL schemes whose userinfo and query are masked.
var maskableSchemes = setOf("http", "https", "socks5", "socks5h")

// SecureHandler is an slog.Handler that masks secrets before passing
// records on. Crawled links and fetch errors are logged verbatim by the
// crawler, so besides masking by key and by value shape it rewrites URLs:
// proxy and page passwords and credential-like query parameters are
// replaced with URLMaskValue, in string attributes and in error text alike.
type SecureHandler struct {
	next slog.Handler
}

// NewSecureHandler wraps next. A nil next uses the default logger's handler.
func NewSecureHandler(next slog.Handler) *SecureHandler {
	if next == nil {
		next = slog.Default().Handler()
	}
	return &SecureHandler{next: next}
}

// Enabled reports whether the wrapped handler logs at level.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle masks the record's attributes and forwards it.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs masks attrs once and binds them to the wrapped handler.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &SecureHandler{next: h.next.WithAttrs(redacted)}
}

// WithGroup opens a group on the wrapped handler.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	switch v.Kind() {
	case slog.KindGroup:
		members := v.Group()
		redacted := make([]slog.Attr, len(members))
		for i, m := range members {
			redacted[i] = redactAttr(m)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}

	case slog.KindString:
		if isSecretKey(a.Key) || hasSecretShape(v.String()) {
			return slog.String(a.Key, MaskValue)
		}
		if masked, ok := maskURL(v.String()); ok {
			return slog.String(a.Key, masked)
		}
		return slog.Attr{Key: a.Key, Value: v}

	case slog.KindAny:
		if isSecretKey(a.Key) {
			return slog.String(a.Key, MaskValue)
		}
		if err, ok := v.Any().(error); ok {
			if text, changed := maskURLsIn(err.Error()); changed {
				return slog.String(a.Key, text)
			}
		}
		return slog.Attr{Key: a.Key, Value: v}

	default:
		if isSecretKey(a.Key) {
			return slog.String(a.Key, MaskValue)
		}
		return slog.Attr{Key: a.Key, Value: v}
	}
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	if _, ok := secretKeys[key]; ok {
		return true
	}
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func hasSecretShape(value string) bool {
	for _, re := range secretShapes {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// maskURL masks the password and secret query values of an absolute page or
// proxy URL. It reports false when value is not such a URL or nothing in it
// is secret.
func maskURL(value string) (string, bool) {
	scheme, _, found := strings.Cut(value, "://")
	if !found {
		return "", false
	}
	if _, ok := maskableSchemes[strings.ToLower(scheme)]; !ok {
		return "", false
	}
	u, err := url.Parse(value)
	if err != nil {
		return "", false
	}

	changed := false
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), URLMaskValue)
			changed = true
		}
	}

	if u.RawQuery != "" {
		query := u.Query()
		queryChanged := false
		for name, values := range query {
			if _, ok := secretQueryParams[strings.ToLower(name)]; !ok {
				continue
			}
			for i := range values {
				values[i] = URLMaskValue
			}
			queryChanged = true
		}
		if queryChanged {
			u.RawQuery = query.Encode()
			changed = true
		}
	}

	if !changed {
		return "", false
	}
	return u.String(), true
}

// maskURLsIn applies maskURL to every URL found in text.
func maskURLsIn(text string) (string, bool) {
	changed := false
	out := embeddedURL.ReplaceAllStringFunc(text, func(match string) string {
		// "URL %s: reason" leaves the colon glued to the URL.
		raw := strings.TrimRight(match, ".,;:)")
		if masked, ok := maskURL(raw); ok {
			changed = true
			return masked + match[len(raw):]
		}
		return match
	})
	return out, changed
}

func setOf(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
