// Package log builds the linkgraph loggers: log/slog handlers wrapped in
// SecureHandler, optionally teed to a size-rotated file.
//
// Crawled pages are third-party content and their links often carry
// session tokens, so masking applies at every level, verbose included.
// SecureHandler replaces with MaskValue:
//   - attributes named like a secret (cookie, authorization, *token*)
//   - values shaped like a secret (JWTs, bearer tokens, long API keys)
//
// and with URLMaskValue, inside http(s) and socks5 URLs found in string
// attributes or error messages:
//   - the userinfo password
//   - credential query parameters (token, key, sig, session)
//
// Usage:
//
//	logger, closer := log.NewLogger(log.Options{
//	    Verbose: true,
//	    File:    "/var/log/linkgraph.log",
//	})
//	defer closer.Close()
//
//	logger.Info("page fetched",
//	    "url", "http://example.com/a?token=abc", // token=REDACTED
//	    "cookie", "session=abc123",              // ***REDACTED***
//	)
package log
