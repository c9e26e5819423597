package pairing

import (
	"net/url"
	"strings"

	apperrors "github.com/domainwallet/walletcore/pkg/errors"
)

// URIVersion is the protocol version encoded in a pairing URI.
type URIVersion int

const (
	// VersionV1 is the legacy bridge-based protocol.
	VersionV1 URIVersion = 1

	// VersionV2 is the relay-based protocol.
	VersionV2 URIVersion = 2
)

// PairingURI is a parsed connection string of the form
// "wc:<topic>@<version>?<params>".
type PairingURI struct {
	Topic   string
	Version URIVersion

	// V2 parameters
	RelayProtocol string
	SymKey        string

	// V1 parameters
	Bridge string
	Key    string
}

// ParsePairingURI parses and validates a pairing URI. Anything not
// matching the expected scheme or a known version is rejected.
func ParsePairingURI(raw string) (*PairingURI, error) {
	rest, ok := strings.CutPrefix(raw, "wc:")
	if !ok {
		return nil, apperrors.InvalidPairingURI(raw)
	}

	head, query, _ := strings.Cut(rest, "?")
	topic, versionStr, ok := strings.Cut(head, "@")
	if !ok || topic == "" {
		return nil, apperrors.InvalidPairingURI(raw)
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, apperrors.InvalidPairingURI(raw)
	}

	uri := &PairingURI{Topic: topic}
	switch versionStr {
	case "1":
		uri.Version = VersionV1
		uri.Bridge = params.Get("bridge")
		uri.Key = params.Get("key")
	case "2":
		uri.Version = VersionV2
		uri.RelayProtocol = params.Get("relay-protocol")
		uri.SymKey = params.Get("symKey")
	default:
		return nil, apperrors.InvalidPairingURI(raw)
	}
	return uri, nil
}
