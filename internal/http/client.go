// Package http builds the HTTP clients used for object-store transfers and
// backend API calls.
package http

import (
	"net"
	nethttp "net/http"

	"golang.org/x/net/http2"

	"github.com/medviewlabs/signal-uplink/internal/constants"
)

// NewTransferClient creates an HTTP client tuned for whole-object uploads
// of large signal files.
//
// Key points:
//   - 10s dial budget, 30s per-request budget (signal files are large but
//     the store is close; anything slower should fail and be retried)
//   - small per-host pool sized for one serialized upload worker
//   - HTTP/2 enabled, compression disabled (EDF and partition files do not
//     compress meaningfully in transit)
func NewTransferClient() *nethttp.Client {
	dialer := &net.Dialer{
		Timeout:   constants.S3ConnectTimeout,
		KeepAlive: constants.HTTPIdleConnTimeout,
	}

	tr := &nethttp.Transport{
		Proxy:                 nethttp.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          constants.S3MaxIdleConns,
		MaxIdleConnsPerHost:   constants.S3MaxIdleConns,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
	_ = http2.ConfigureTransport(tr)

	return &nethttp.Client{
		Transport: tr,
		Timeout:   constants.S3RequestTimeout,
	}
}

// NewAPIClient creates the HTTP client underlying the backend JSON client.
// Shorter-lived requests, default pooling.
func NewAPIClient() *nethttp.Client {
	dialer := &net.Dialer{
		Timeout:   constants.APIConnectTimeout,
		KeepAlive: constants.HTTPIdleConnTimeout,
	}

	tr := &nethttp.Transport{
		Proxy:                 nethttp.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}

	return &nethttp.Client{
		Transport: tr,
		Timeout:   constants.APIRequestTimeout,
	}
}
