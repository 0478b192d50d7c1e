package server

import (
	"fmt"
	"net/url"
	"strings"
)

const wsPath = "/ws"

// getInstanceURL checks if user supplied a URL scheme otherwise adds to the
// provided address according to TLS definition and parses the address before returning it
func getInstanceURL(exposedAddress string, tlsSupported bool) (string, error) {
	addr := exposedAddress
	split := strings.Split(exposedAddress, "://")
	switch {
	case len(split) == 1 && tlsSupported:
		addr = "wss://" + exposedAddress
	case len(split) == 1 && !tlsSupported:
		addr = "ws://" + exposedAddress
	case len(split) > 2:
		return "", fmt.Errorf("invalid exposed address: %s", exposedAddress)
	}

	parsedURL, err := url.ParseRequestURI(addr)
	if err != nil {
		return "", fmt.Errorf("invalid exposed address: %v", err)
	}

	if parsedURL.Scheme != "ws" && parsedURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme: %s", parsedURL.Scheme)
	}

	if parsedURL.Path == "" || parsedURL.Path == "/" {
		parsedURL.Path = wsPath
	}

	return parsedURL.String(), nil
}
