package main

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/skip2/go-qrcode"

	"github.com/b/tmux-remote/internal/auth"
	"github.com/b/tmux-remote/internal/config"
)

// connectHandler serves a loopback-only page with a QR code encoding the
// control socket URL, for pairing a phone without typing the token by hand.
func connectHandler(cfg config.RuntimeConfig, authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		wsURL := fmt.Sprintf("ws://%s/ws/control?token=%s", r.Host, url.QueryEscape(cfg.Token))
		png, err := qrcode.Encode(wsURL, qrcode.Medium, 256)
		if err != nil {
			http.Error(w, "failed to generate qr code", http.StatusInternalServerError)
			return
		}
		encoded := base64.StdEncoding.EncodeToString(png)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, connectPageHTML, encoded, wsURL)
	}
}

func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

const connectPageHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>tmux-remote connect</title>
    <style>
      body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 32px; }
      .container { max-width: 640px; margin: 0 auto; }
      .qr { width: 256px; height: 256px; border: 1px solid #ddd; padding: 8px; }
      code { display: block; margin-top: 12px; padding: 12px; background: #f6f6f6; border-radius: 8px; word-break: break-all; }
    </style>
  </head>
  <body>
    <div class="container">
      <h1>tmux-remote</h1>
      <p>Scan this QR code with your phone to connect.</p>
      <p><strong>Local only.</strong> This page only answers loopback requests.</p>
      <img class="qr" src="data:image/png;base64,%s" alt="QR code" />
      <p>Or open this URL on your phone:</p>
      <code>%s</code>
    </div>
  </body>
</html>
`
