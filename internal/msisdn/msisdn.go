// Package msisdn normalizes Kenyan phone numbers to the 254 international
// format and classifies them by mobile network.
package msisdn

import "strings"

type Network string

const (
	Safaricom Network = "Safaricom"
	Airtel    Network = "Airtel"
	Telkom    Network = "Telkom"
	Equitel   Network = "Equity Bank"
)

// Single source of truth for network prefixes. Note: the Safaricom and
// Airtel tables overlap on 25473/25475/25478 (inherited catalog data, kept
// until product resolves the assignment). Classify breaks ties in
// declaration order; Matches checks a network's own table only.
var networkPrefixes = []struct {
	network  Network
	prefixes []string
}{
	{Safaricom, []string{
		"25470", "25471", "25472", "25473", "25474", "25475",
		"25476", "25477", "25478", "25479", "254110", "254111",
		"254112", "254113", "254114", "254115",
	}},
	{Airtel, []string{
		"25473", "25475", "25478", "254100", "254101", "254102",
	}},
	{Telkom, []string{"25477"}},
	{Equitel, []string{"25476"}},
}

// Normalize strips non-digits and rewrites the number into 254 format.
// Input that matches no known shape is returned as-is, best effort.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	phone := b.String()

	switch {
	case strings.HasPrefix(phone, "254"):
		return phone
	case strings.HasPrefix(phone, "0"):
		return "254" + phone[1:]
	case strings.HasPrefix(phone, "7"), strings.HasPrefix(phone, "1"):
		return "254" + phone
	}
	return phone
}

// Classify returns the network owning a normalized number, first match in
// declaration order, or false when no table claims it.
func Classify(normalized string) (Network, bool) {
	for _, entry := range networkPrefixes {
		for _, p := range entry.prefixes {
			if strings.HasPrefix(normalized, p) {
				return entry.network, true
			}
		}
	}
	return "", false
}

// Matches reports whether a normalized number is claimed by the given
// network's prefix table.
func Matches(normalized string, network Network) bool {
	for _, entry := range networkPrefixes {
		if entry.network != network {
			continue
		}
		for _, p := range entry.prefixes {
			if strings.HasPrefix(normalized, p) {
				return true
			}
		}
	}
	return false
}
