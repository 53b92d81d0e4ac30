package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/b/tmux-remote/internal/auth"
	"github.com/b/tmux-remote/internal/broker"
	"github.com/b/tmux-remote/internal/config"
	"github.com/b/tmux-remote/internal/gateway"
	"github.com/b/tmux-remote/internal/httpapi"
	"github.com/b/tmux-remote/internal/logging"
	"github.com/b/tmux-remote/internal/ptyproc"
	"github.com/b/tmux-remote/pkg/paths"
)

func main() {
	defaults := config.Defaults()

	fs := flag.NewFlagSet("tmux-remote", flag.ExitOnError)
	host := fs.String("host", defaults.Host, "HTTP server host")
	port := fs.Int("port", defaults.Port, "HTTP server port")
	password := fs.String("password", "", "required password for web access")
	defaultSession := fs.String("default-session", defaults.DefaultSession, "session to create when none exist")
	scrollbackLines := fs.Int("scrollback-lines", defaults.ScrollbackLines, "default capture-pane line count")
	pollIntervalMs := fs.Int("poll-interval-ms", defaults.PollIntervalMs, "tmux state poll interval in milliseconds")
	token := fs.String("token", "", "auth token (loaded/generated and persisted under the state dir if omitted)")
	frontendDir := fs.String("frontend-dir", defaults.FrontendDir, "directory containing the built frontend")
	configPath := fs.String("config", paths.ConfigPath(), "path to config.yaml")
	qr := fs.Bool("qr", false, "serve a loopback-only /connect QR code page")
	tunnel := fs.Bool("tunnel", false, "start a public tunnel via an external cloudflared-style binary")
	tunnelBin := fs.String("tunnel-bin", "cloudflared", "tunnel binary to invoke")
	logFile := fs.String("log-file", "", "write logs to this file instead of stderr")
	_ = fs.Parse(os.Args[1:])

	logger := logging.New("tmux-remote", nil)
	if *logFile != "" {
		f, err := logging.Open(*logFile)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		logger = logging.New("tmux-remote", f)
	}

	cfg := defaults
	cfg.Host, cfg.Port, cfg.Password = *host, *port, *password
	cfg.DefaultSession, cfg.ScrollbackLines = *defaultSession, *scrollbackLines
	cfg.PollIntervalMs, cfg.Token, cfg.FrontendDir = *pollIntervalMs, *token, *frontendDir

	fileCfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	config.MergeFlags(&cfg, fileCfg, fs)

	tokenFromFlagOrFile := cfg.Token != ""
	if err := config.EnsureToken(&cfg); err != nil {
		logger.Fatalf("ensure token: %v", err)
	}
	if !tokenFromFlagOrFile {
		logger.Printf("auth token (persisted at %s): %s", config.TokenPath(), cfg.Token)
	}

	gw := gateway.NewCLIGateway()
	authSvc := auth.New(cfg.Token, cfg.Password)
	factory := &ptyproc.CreackFactory{}

	h := broker.New(cfg, gw, authSvc, factory, logger)

	mux := httpapi.NewMux(cfg, authSvc)
	mux.HandleFunc("/ws/control", h.HandleControl)
	mux.HandleFunc("/ws/terminal", h.HandleTerminal)
	if *qr {
		mux.HandleFunc("/connect", connectHandler(cfg, authSvc))
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.AttachHTTPServer(srv)

	watcher, err := config.Watch(*configPath, logger, func(updated config.RuntimeConfig) {
		if updated.Password != "" {
			authSvc.SetPassword(updated.Password)
		}
		if updated.PollIntervalMs != 0 {
			h.SetPollInterval(time.Duration(updated.PollIntervalMs) * time.Millisecond)
		}
	})
	if err != nil {
		logger.Printf("config watch disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartMonitor(ctx)

	if *tunnel {
		handle, err := startTunnel(ctx, *tunnelBin, addr, logger)
		if err != nil {
			logger.Printf("tunnel disabled: %v", err)
		} else {
			defer handle.Stop()
		}
	}

	go func() {
		logger.Printf("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Fprintln(os.Stderr, "shutting down")
	h.Stop()
}
