package telephony

import (
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/sirupsen/logrus"
)

// ReferURI builds the sip: URI a REFER should point at for a dialed number.
// The host defaults to the carrier's ingress when empty.
func ReferURI(number, host string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", fmt.Errorf("empty refer target")
	}
	if host == "" {
		host = "sip.carrier.invalid"
	}

	raw := fmt.Sprintf("sip:%s@%s", number, host)
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		logrus.WithError(err).WithField("target", raw).Error("Failed to build REFER URI")
		return "", fmt.Errorf("invalid refer target %q: %w", number, err)
	}
	return uri.String(), nil
}

// ParseSIPUser extracts the user part of a sip: URI, or returns the input
// unchanged when it is not a URI (plain dialed numbers pass through).
func ParseSIPUser(raw string) string {
	if !strings.HasPrefix(raw, "sip:") && !strings.HasPrefix(raw, "sips:") {
		return raw
	}
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		logrus.WithError(err).WithField("uri", raw).Warn("Unparseable SIP URI")
		return raw
	}
	return uri.User
}
