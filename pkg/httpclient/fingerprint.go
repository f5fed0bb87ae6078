package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	}
	return utls.ClientHelloID{}, fmt.Errorf("unknown tls profile %q", p)
}

// Transport returns an http.RoundTripper presenting the given TLS
// fingerprint. ProfileGo returns a clone of the default transport.
func Transport(p Profile) (*http.Transport, error) {
	return transport(p, nil)
}

func transport(p Profile, tlsConfig *utls.Config) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if p == ProfileGo || p == "" {
		return tr, nil
	}

	id, err := helloID(p)
	if err != nil {
		return nil, err
	}

	dial := tr.DialContext
	tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		cfg := &utls.Config{ServerName: host}
		if tlsConfig != nil {
			cfg = tlsConfig.Clone()
			if cfg.ServerName == "" {
				cfg.ServerName = host
			}
		}

		uconn := utls.UClient(conn, cfg, id)
		if err := uconn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("utls handshake with %s: %w", host, err)
		}
		return uconn, nil
	}
	return tr, nil
}
