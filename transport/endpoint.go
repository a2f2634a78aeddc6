package transport

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Kind classifies the transport an endpoint is reachable over.
type Kind uint8

const (
	// KindUnknown is an endpoint no transport can serve.
	KindUnknown Kind = iota

	// KindHTTP is an http:// or https:// endpoint.
	KindHTTP

	// KindWireless is a short-range radio endpoint of the form
	// bt:<mac>[/<path>].
	KindWireless
)

// String returns a human readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindWireless:
		return "wireless"
	default:
		return "unknown"
	}
}

const (
	// wirelessScheme prefixes every wireless endpoint.
	wirelessScheme = "bt:"

	// compressedMACLen is the length of a MAC address without colons.
	compressedMACLen = 12
)

// Classify returns the transport kind of an endpoint.
func Classify(endpoint string) Kind {
	lower := strings.ToLower(endpoint)
	switch {
	case strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "https://"):

		return KindHTTP

	case strings.HasPrefix(lower, wirelessScheme):
		return KindWireless

	default:
		return KindUnknown
	}
}

// WirelessTarget is a parsed wireless endpoint.
type WirelessTarget struct {
	// MAC is the compressed, upper case device address.
	MAC string

	// Path selects the service on the device. It is empty for the
	// default service.
	Path string
}

// ParseWireless parses a bt:<mac>[/<path>] endpoint.
func ParseWireless(endpoint string) (*WirelessTarget, error) {
	if Classify(endpoint) != KindWireless {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEndpoint,
			endpoint)
	}

	rest := endpoint[len(wirelessScheme):]
	mac, path, _ := strings.Cut(rest, "/")

	mac = strings.ToUpper(strings.ReplaceAll(mac, ":", ""))
	if len(mac) != compressedMACLen {
		return nil, fmt.Errorf("%w: bad device address %q",
			ErrUnsupportedEndpoint, mac)
	}
	if _, err := hex.DecodeString(mac); err != nil {
		return nil, fmt.Errorf("%w: bad device address %q",
			ErrUnsupportedEndpoint, mac)
	}

	return &WirelessTarget{
		MAC:  mac,
		Path: path,
	}, nil
}

// DecompressMAC inserts colons into a compressed MAC address.
func DecompressMAC(mac string) string {
	if len(mac) != compressedMACLen {
		return mac
	}

	var b strings.Builder
	for i := 0; i < len(mac); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(mac[i : i+2])
	}

	return b.String()
}

// Host returns the name a user would recognise an endpoint by: the host of
// an HTTP URL or the colon separated device address of a wireless endpoint.
func Host(endpoint string) string {
	switch Classify(endpoint) {
	case KindHTTP:
		u, err := url.Parse(endpoint)
		if err != nil {
			return endpoint
		}
		return u.Hostname()

	case KindWireless:
		target, err := ParseWireless(endpoint)
		if err != nil {
			return endpoint
		}
		return DecompressMAC(target.MAC)

	default:
		return endpoint
	}
}
