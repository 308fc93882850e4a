package restapi

import (
	"net"
	"net/http"
	"strings"
)

// Header and parameter names accepted for the authentication material.
// Headers win over query/form parameters.
const (
	HeaderAuthKey   = "X-Auth-Key"
	HeaderSignature = "X-Auth-Signature"
	HeaderNonce     = "X-Api-Nonce"
	HeaderSigAlgo   = "X-Auth-Method"
)

// transportFields carry authentication and routing material; they never
// enter the signed payload
var transportFields = map[string]bool{
	"api_key":    true,
	"signature":  true,
	"sig_method": true,
	"nonce":      true,
	"version":    true,
	"timestamp":  true,
	"format":     true,
	"method":     true,
	"option":     true,
	"view":       true,
}

// FromHTTPRequest extracts the authentication material from an HTTP
// request. The form must already be parsed when credentials travel in the
// body. Every remaining parameter becomes signature payload; the transport
// fields themselves are excluded from it.
func FromHTTPRequest(r *http.Request) Request {
	req := Request{
		APIKey:    firstOf(r, HeaderAuthKey, "api_key"),
		Signature: firstOf(r, HeaderSignature, "signature"),
		Nonce:     firstOf(r, HeaderNonce, "nonce"),
		SigAlgo:   firstOf(r, HeaderSigAlgo, "sig_method"),
		IP:        clientIP(r),
		HTTPS:     r.TLS != nil,
		Headers:   map[string]string{},
		Params:    map[string]string{},
	}

	// Authorization: "HMAC key:signature" carries both halves at once
	if auth := r.Header.Get("Authorization"); auth != "" {
		if _, rest, ok := strings.Cut(auth, " "); ok {
			if key, sig, ok := strings.Cut(strings.TrimSpace(rest), ":"); ok {
				req.APIKey = key
				req.Signature = sig
			}
		}
	}

	for name := range r.Header {
		req.Headers[name] = r.Header.Get(name)
	}

	req.Method = strings.ToLower(firstOf(r, "", "method"))
	if req.Method == "" {
		option := r.FormValue("option")
		view := r.FormValue("view")
		if option != "" {
			req.Method = strings.ToLower(strings.TrimSuffix(option+"."+view, "."))
		}
	}

	for key, values := range r.Form {
		if transportFields[key] {
			continue
		}
		if len(values) > 0 {
			req.Params[key] = values[0]
		}
	}

	return req
}

func firstOf(r *http.Request, header, param string) string {
	if header != "" {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	if param != "" {
		return r.FormValue(param)
	}
	return ""
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
