package httputil

import (
	"crypto/tls"
	"log"
	"net/http"
	"net/url"
	"time"

	"rfp_scout/config"
)

type Clients struct {
	Source *http.Client // proxied when PROXY_URL is set, for the opportunity feed
	API    *http.Client // direct, for model and object-store calls
}

func NewClients(proxyCfg config.ProxyConfig) *Clients {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}

	if proxyCfg.URL != "" {
		proxyURL, err := url.Parse(proxyCfg.URL)
		if err != nil {
			log.Printf("[HTTP] Ignoring invalid PROXY_URL: %v", err)
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Source: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		API: &http.Client{Timeout: 60 * time.Second},
	}
}
