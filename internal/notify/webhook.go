// Package notify delivers moderator notifications for decisions that
// need human attention. Webhook destinations are validated against
// private and reserved ranges before any connection is made.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modpipe/modpipe/internal/casefile"
	"github.com/modpipe/modpipe/internal/config"
)

// blockedCIDRs lists RFC special-use ranges that must never be webhook
// destinations (SSRF prevention): private, loopback, link-local,
// documentation, multicast, reserved, and IPv4-embedding IPv6 prefixes.
var blockedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"0.0.0.0/8",       // "This" network (RFC 1122)
		"10.0.0.0/8",      // Private-Use (RFC 1918)
		"100.64.0.0/10",   // Shared Address / CGN (RFC 6598)
		"127.0.0.0/8",     // Loopback (RFC 1122)
		"169.254.0.0/16",  // Link-Local (RFC 3927)
		"172.16.0.0/12",   // Private-Use (RFC 1918)
		"192.0.0.0/24",    // IETF Protocol Assignments (RFC 6890)
		"192.0.2.0/24",    // TEST-NET-1 (RFC 5737)
		"192.168.0.0/16",  // Private-Use (RFC 1918)
		"198.18.0.0/15",   // Benchmarking (RFC 2544)
		"198.51.100.0/24", // TEST-NET-2 (RFC 5737)
		"203.0.113.0/24",  // TEST-NET-3 (RFC 5737)
		"224.0.0.0/4",     // Multicast (RFC 5771)
		"240.0.0.0/4",     // Reserved (RFC 1112)
		"::1/128",         // IPv6 Loopback
		"fc00::/7",        // IPv6 Unique Local (RFC 4193)
		"fe80::/10",       // IPv6 Link-Local (RFC 4291)
		"2001:db8::/32",   // IPv6 Documentation (RFC 3849)
		"2001::/32",       // Teredo (RFC 4380), embeds IPv4
		"2002::/16",       // 6to4 (RFC 3056), embeds IPv4
		"64:ff9b::/96",    // NAT64 (RFC 6052), embeds IPv4
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err == nil {
			nets = append(nets, ipnet)
		}
	}
	return nets
}()

func isBlockedIP(ip net.IP) bool {
	// normalize IPv4-mapped IPv6 so IPv4 CIDRs match
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, cidr := range blockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// safeDialContext resolves DNS and validates every resolved IP before
// connecting, then dials the validated IP directly. This closes the DNS
// rebinding window between URL validation and connection time.
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %q", host)
	}
	for _, ip := range ips {
		if isBlockedIP(ip.IP) {
			return nil, fmt.Errorf("blocked: %s resolves to %s (private/reserved range)", host, ip.IP)
		}
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

// ValidateWebhookURL performs pre-DNS validation: scheme, alternative
// numeric IP encodings, and literal IPs against the CIDR blocklist.
// Post-DNS validation happens in safeDialContext.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.New("webhook URL must use http or https")
	}
	host := u.Hostname()
	if looksLikeAlternativeIP(host) {
		return errors.New("webhook URL contains alternative IP encoding")
	}
	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return errors.New("webhook URL points to a blocked IP range")
	}
	return nil
}

// looksLikeAlternativeIP detects hex (0xA9FEA9FE), dot-separated hex,
// leading-zero octal, and packed-decimal hostnames used to bypass SSRF
// IP blocklists.
func looksLikeAlternativeIP(host string) bool {
	if len(host) > 2 && (host[:2] == "0x" || host[:2] == "0X") {
		return true
	}
	parts := strings.Split(host, ".")
	if len(parts) == 4 {
		for _, p := range parts {
			if len(p) > 2 && (p[:2] == "0x" || p[:2] == "0X") {
				return true
			}
			if len(p) > 1 && p[0] == '0' && isAllDigits(p) {
				return true
			}
		}
	}
	return isAllDigits(host)
}

func isAllDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// DecisionPayload is the JSON body delivered to webhook endpoints.
type DecisionPayload struct {
	Event       string   `json:"event"`
	DecisionID  string   `json:"decision_id"`
	CaseID      string   `json:"case_id"`
	SubjectType string   `json:"subject_type"`
	SubjectID   string   `json:"subject_id"`
	Action      string   `json:"action"`
	Severity    int      `json:"severity"`
	Reasons     []string `json:"reasons,omitempty"`
	Escalated   bool     `json:"escalated"`
	Timestamp   string   `json:"timestamp"`
}

// WebhookNotifier posts decision events to the configured endpoints.
// Endpoints with invalid URLs are logged and dropped at construction.
type WebhookNotifier struct {
	webhooks []config.Webhook
	client   *http.Client
	logger   *slog.Logger
}

func NewWebhookNotifier(webhooks []config.Webhook, logger *slog.Logger) *WebhookNotifier {
	var valid []config.Webhook
	for _, wh := range webhooks {
		if err := ValidateWebhookURL(wh.URL); err != nil {
			logger.Warn("skipping invalid webhook URL", "url", wh.URL, "error", err)
			continue
		}
		valid = append(valid, wh)
	}
	return &WebhookNotifier{
		webhooks: valid,
		client: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DialContext: safeDialContext,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 2 {
					return errors.New("too many redirects")
				}
				if err := ValidateWebhookURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect to blocked URL: %w", err)
				}
				return nil
			},
		},
		logger: logger,
	}
}

// NotifyDecision posts the event to every webhook whose filter matches
// the decision action. Individual delivery failures are joined so the
// caller can log them; they never block each other.
func (n *WebhookNotifier) NotifyDecision(ctx context.Context, ev casefile.DecisionEvent) error {
	payload := DecisionPayload{
		Event:       "decision",
		DecisionID:  ev.DecisionID,
		CaseID:      ev.CaseID,
		SubjectType: string(ev.SubjectType),
		SubjectID:   ev.SubjectID,
		Action:      ev.Decision.Action,
		Severity:    ev.Decision.Severity,
		Reasons:     ev.Decision.Reasons,
		Escalated:   ev.Escalated,
		Timestamp:   ev.OccurredAt.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	var errs []error
	for _, wh := range n.webhooks {
		if !matchesAction(wh.Events, ev.Decision.Action) {
			continue
		}
		if err := n.post(ctx, wh.URL, body); err != nil {
			n.logger.Warn("webhook delivery failed", "url", wh.URL, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func matchesAction(configured []string, action string) bool {
	if len(configured) == 0 {
		return true // no filter = all actions
	}
	for _, a := range configured {
		if a == action {
			return true
		}
	}
	return false
}
