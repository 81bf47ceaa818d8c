package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
)

// MailNotifier sends one email per flip through an SMTP relay.
type MailNotifier struct {
	to      string
	from    string
	addr    string
	timeout time.Duration
}

// NewMailNotifier sends from 'from' to 'to' via the relay at addr
// (host:port, usually localhost:25).
func NewMailNotifier(to, from, addr string) *MailNotifier {
	return &MailNotifier{
		to:      to,
		from:    from,
		addr:    addr,
		timeout: 10 * time.Second,
	}
}

func (m *MailNotifier) message(f Flip) (*mail.Msg, error) {
	tag := ""
	if !f.After {
		tag = " WARNING "
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("notify: sender %q: %w", m.from, err)
	}
	if err := msg.To(m.to); err != nil {
		return nil, fmt.Errorf("notify: recipient %q: %w", m.to, err)
	}
	msg.Subject(fmt.Sprintf("[dnslb] %s%s: %t", f.Host, tag, f.After))
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain,
		fmt.Sprintf("The host %s flipped from %t to %t\n\n%s\n", f.Host, f.Before, f.After, f.Info))

	return msg, nil
}

// Message renders the RFC 5322 message for a flip.
func (m *MailNotifier) Message(f Flip) ([]byte, error) {
	msg, err := m.message(f)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("notify: render message: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *MailNotifier) Notify(f Flip) error {
	msg, err := m.message(f)
	if err != nil {
		return err
	}

	host, portStr, err := net.SplitHostPort(m.addr)
	if err != nil {
		return fmt.Errorf("notify: relay %s: %w", m.addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("notify: relay port %q: %w", portStr, err)
	}

	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithTimeout(m.timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send via %s: %w", m.addr, err)
	}
	return nil
}
