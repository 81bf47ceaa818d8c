package zone

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// SOA timers used when rendering master file text.
const (
	soaRefresh = 3600
	soaRetry   = 600
	soaExpire  = 1209600
)

// Records renders the document as resource records below origin. Aliases
// become CNAMEs pointing at the origin.
func (d *Document) Records(origin string) ([]dns.RR, error) {
	origin = dns.Fqdn(origin)
	if _, ok := dns.IsDomainName(origin); !ok {
		return nil, fmt.Errorf("zone: invalid origin %q", origin)
	}

	ttl := uint32(d.TTL)
	header := func(name string, rrtype uint16) dns.RR_Header {
		return dns.RR_Header{Name: name, Rrtype: rrtype, Class: dns.ClassINET, Ttl: ttl}
	}

	var rrs []dns.RR

	labels := make([]string, 0, len(d.Data))
	for label := range d.Data {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var nameservers []string
	if root, ok := d.Data[""]; ok && root != nil {
		for ns := range root.NS {
			nameservers = append(nameservers, dns.Fqdn(ns))
		}
		sort.Strings(nameservers)
	}

	primary := origin
	if len(nameservers) > 0 {
		primary = nameservers[0]
	}
	rrs = append(rrs, &dns.SOA{
		Hdr:     header(origin, dns.TypeSOA),
		Ns:      primary,
		Mbox:    mailbox(d.Contact, origin),
		Serial:  d.Serial,
		Refresh: soaRefresh,
		Retry:   soaRetry,
		Expire:  soaExpire,
		Minttl:  ttl,
	})

	for _, label := range labels {
		rs := d.Data[label]
		if rs == nil {
			continue
		}

		name := origin
		if label != "" {
			name = dns.Fqdn(label + "." + origin)
			if _, ok := dns.IsDomainName(name); !ok {
				return nil, fmt.Errorf("zone: invalid label %q", label)
			}
		}

		if label == "" {
			for _, ns := range nameservers {
				rrs = append(rrs, &dns.NS{Hdr: header(name, dns.TypeNS), Ns: ns})
			}
		}

		if rs.Alias != nil {
			target := origin
			if *rs.Alias != "" {
				target = dns.Fqdn(*rs.Alias + "." + origin)
			}
			rrs = append(rrs, &dns.CNAME{Hdr: header(name, dns.TypeCNAME), Target: target})
			continue
		}

		for _, a := range rs.A {
			rrs = append(rrs, &dns.A{Hdr: header(name, dns.TypeA), A: net.ParseIP(a.IP()).To4()})
		}
		for _, a := range rs.AAAA {
			rrs = append(rrs, &dns.AAAA{Hdr: header(name, dns.TypeAAAA), AAAA: net.ParseIP(a.IP())})
		}
	}

	return rrs, nil
}

// WriteZone writes the document as RFC 1035 master file text.
func (d *Document) WriteZone(w io.Writer, origin string) error {
	rrs, err := d.Records(origin)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "$ORIGIN %s\n", dns.Fqdn(origin))
	fmt.Fprintf(bw, "$TTL %d\n", d.TTL)
	for _, rr := range rrs {
		fmt.Fprintln(bw, rr.String())
	}
	return bw.Flush()
}

// mailbox converts a contact address into SOA RNAME form.
func mailbox(contact, origin string) string {
	if contact == "" {
		return "hostmaster." + origin
	}
	if i := strings.Index(contact, "@"); i >= 0 {
		local := strings.ReplaceAll(contact[:i], ".", "\\.")
		return dns.Fqdn(local + "." + contact[i+1:])
	}
	return dns.Fqdn(contact)
}
