package check

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/waitprobe/internal/probe"
)

// DNS classes reported in DNSStatus.Class.
const (
	ClassResolves    = "RESOLVES"
	ClassNXDomain    = "NXDOMAIN"
	ClassNoARecord   = "NO_A_RECORD"
	ClassServFail    = "SERVFAIL_or_TIMEOUT"
	ClassInvalidName = "INVALID_NAME"
)

type DNSStatus struct {
	Domain        string
	HasAOrAAAA    bool
	IPs           []net.IP
	CNAME         string
	HasNS         bool
	Nameservers   []string
	Class         string
	ResolverError string
}

// DNSChecker resolves names with Resolver, the OS resolver when nil.
type DNSChecker struct {
	Resolver *net.Resolver
	Timeout  time.Duration
}

func NewDNSChecker(timeout time.Duration) *DNSChecker {
	return &DNSChecker{Resolver: &net.Resolver{}, Timeout: timeout}
}

// Classify looks up A/AAAA, CNAME and NS records for domain.
func (d *DNSChecker) Classify(ctx context.Context, domain string) DNSStatus {
	s := DNSStatus{Domain: extractHost(strings.TrimSpace(domain))}
	if s.Domain == "" || strings.Contains(s.Domain, "://") || strings.ContainsAny(s.Domain, " /") {
		s.Class = ClassInvalidName
		return s
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	r := d.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	ips, err := r.LookupIP(ctx, "ip", s.Domain)
	if err == nil && len(ips) > 0 {
		s.HasAOrAAAA = true
		s.IPs = ips
		s.Class = ClassResolves
	} else if err != nil {
		var de *net.DNSError
		s.ResolverError = err.Error()
		if errors.As(err, &de) {
			if de.IsNotFound {
				s.Class = ClassNXDomain
			} else if de.IsTemporary || de.Timeout() {
				s.Class = ClassServFail
			}
		}
	}

	if cname, err := r.LookupCNAME(ctx, s.Domain); err == nil && !strings.EqualFold(cname, s.Domain+".") {
		s.CNAME = strings.TrimSuffix(cname, ".")
	}

	if ns, err := r.LookupNS(ctx, s.Domain); err == nil && len(ns) > 0 {
		s.HasNS = true
		for _, n := range ns {
			s.Nameservers = append(s.Nameservers, strings.TrimSuffix(n.Host, "."))
		}
		if s.Class == ClassNXDomain {
			s.Class = ClassNoARecord
		}
	}

	if s.Class == "" {
		switch {
		case s.HasAOrAAAA:
			s.Class = ClassResolves
		case s.HasNS:
			s.Class = ClassNoARecord
		case s.ResolverError != "":
			s.Class = ClassServFail
		default:
			s.Class = ClassNXDomain
		}
	}
	return s
}

// Check returns a check that is true once domain has an A or AAAA record.
func (d *DNSChecker) Check(domain string) probe.CheckFunc {
	return func(ctx context.Context) (any, error) {
		s := d.Classify(ctx, domain)
		if err := classError(s); err != nil {
			return nil, err
		}
		return true, nil
	}
}

// DNS is a shorthand for NewDNSChecker(timeout).Check(domain).
func DNS(domain string, timeout time.Duration) probe.CheckFunc {
	return NewDNSChecker(timeout).Check(domain)
}

// classError maps a DNS class to a tagged error; nil for ClassResolves.
func classError(s DNSStatus) error {
	switch s.Class {
	case ClassResolves:
		return nil
	case ClassInvalidName:
		return probe.Errorf(probe.TagInvalid, "invalid domain %q", s.Domain)
	case ClassNXDomain:
		return probe.Errorf(probe.TagNotFound, "%s: no such domain", s.Domain)
	case ClassNoARecord:
		return probe.Errorf(probe.TagNotReady, "%s: no A or AAAA record", s.Domain)
	default:
		return probe.Errorf(probe.TagTemporary, "%s: %s", s.Domain, s.ResolverError)
	}
}

// extractHost pulls the hostname out of a URL; other input is returned as is.
func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
