// Package healthcheck defines the pluggable check capability used by the
// monitor and ships the built-in checks: check_http (HTTP/HTTPS GET with an
// optional virtual host, SNI and body match) and check_xmpp (client stream
// negotiation with optional STARTTLS and SASL PLAIN authentication).
//
// Checks are looked up by name in a Registry once at startup so that an
// unknown check in the configuration is reported before any work begins.
package healthcheck
