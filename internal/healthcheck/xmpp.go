package healthcheck

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/xmppo/go-xmpp"
)

const defaultXMPPDialTimeout = 10 * time.Second

// XMPPCheck logs in to the host as a client. Without a jid the login is
// anonymous, so the server must offer SASL ANONYMOUS.
//
// Params: port (default 5222), jid, password, domain (TLS server name,
// defaults to the jid domain or the host), use_tls (STARTTLS, default on
// when a jid is set), insecure.
type XMPPCheck struct {
	logger *slog.Logger
}

func NewXMPPCheck(logger *slog.Logger) *XMPPCheck {
	return &XMPPCheck{logger: logger}
}

func (c *XMPPCheck) Check(ctx context.Context, host string, params Params) (bool, error) {
	jid := params.String("jid", "")
	bare, resource := splitResource(jid)
	domain := params.String("domain", jidDomain(bare))
	if domain == "" {
		domain = host
	}
	useTLS := params.Bool("use_tls", jid != "")

	dialTimeout := defaultXMPPDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}

	opts := xmpp.Options{
		Host:        net.JoinHostPort(host, strconv.Itoa(params.Int("port", 5222))),
		User:        bare,
		Password:    params.String("password", ""),
		Resource:    resource,
		DialTimeout: dialTimeout,
		NoTLS:       true,
		StartTLS:    useTLS,
		TLSConfig: &tls.Config{
			ServerName:         domain,
			InsecureSkipVerify: params.Bool("insecure", false),
		},
		InsecureAllowUnencryptedAuth: !useTLS,
	}

	c.logger.Debug("XMPP check",
		slog.String("host", host),
		slog.String("addr", opts.Host),
		slog.String("jid", bare))

	type login struct {
		client *xmpp.Client
		err    error
	}
	done := make(chan login, 1)
	go func() {
		client, err := opts.NewClient()
		done <- login{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		// The login finishes in the background and is closed there.
		go func() {
			if l := <-done; l.client != nil {
				l.client.Close()
			}
		}()
		return false, ctx.Err()
	case l := <-done:
		if l.err != nil {
			return false, classifyXMPPError(host, l.err)
		}
		_ = l.client.Close()
		return true, nil
	}
}

// classifyXMPPError keeps network errors as they are. Anything else means
// the server answered and refused the login.
func classifyXMPPError(host string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("unable to connect to %s: %w", host, err)
	}
	return fmt.Errorf("%w: %s", ErrCheckFailed, err)
}

func splitResource(jid string) (bare, resource string) {
	if i := strings.Index(jid, "/"); i >= 0 {
		return jid[:i], jid[i+1:]
	}
	return jid, ""
}

func jidDomain(bare string) string {
	if i := strings.Index(bare, "@"); i >= 0 {
		return bare[i+1:]
	}
	return bare
}
