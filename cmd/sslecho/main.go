// Package main is the entry point for the sslecho binary: a TLS echo server
// and client built on the SSL session service, used for exercising the
// session layer end to end.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/preecet/BlueSSLService/pkg/config"
	"github.com/preecet/BlueSSLService/pkg/logging"
	"github.com/preecet/BlueSSLService/pkg/ssl"
	"github.com/preecet/BlueSSLService/pkg/telemetry"
)

const (
	defaultListen   = ":8443"
	defaultLogLevel = "info"
)

var (
	connectionsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sslecho_connections_total",
		Help: "Total number of connections the echo server handled",
	})
	connectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sslecho_connection_errors_total",
		Help: "Total number of connections that failed handshake or I/O",
	})
	bytesEchoed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sslecho_bytes_echoed_total",
		Help: "Total plaintext bytes echoed back to clients",
	})
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sslecho",
		Short: "TLS echo server and client",
		Long: `A TLS echo server and client built on the SSL session service.

The server accepts TCP connections, wraps each socket descriptor in a TLS
session and echoes decrypted payloads back. The client connects, sends a
message and prints the echoed response.

Example:
  sslecho serve --config server.yaml
  sslecho connect --target localhost:8443 --self-signed --message hello`,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConnectCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", defaultListen, "TCP address to listen on")
	serveCmd.Flags().String("metrics-listen", "", "Address for the HTTP metrics endpoint (empty disables)")
	serveCmd.Flags().String("cert", "", "PEM certificate file")
	serveCmd.Flags().String("key", "", "PEM private key file")
	serveCmd.Flags().String("chain-file", "", "Chain file (PEM or PKCS#12)")
	serveCmd.Flags().String("password", "", "Password for PKCS#12 chain files")
	serveCmd.Flags().String("ca", "", "CA bundle enabling mutual TLS")
	serveCmd.Flags().Bool("self-signed", false, "Skip peer verification")
	serveCmd.Flags().Bool("watch", false, "Hot reload credential files on change")
	return serveCmd
}

func newConnectCmd() *cobra.Command {
	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to an echo server and send a message",
		RunE:  runConnect,
	}
	connectCmd.Flags().String("target", "", "TCP address to connect to")
	connectCmd.Flags().String("cert", "", "PEM client certificate file")
	connectCmd.Flags().String("key", "", "PEM client private key file")
	connectCmd.Flags().String("chain-file", "", "Chain file (PEM or PKCS#12)")
	connectCmd.Flags().String("password", "", "Password for PKCS#12 chain files")
	connectCmd.Flags().String("ca", "", "CA bundle for verifying the server")
	connectCmd.Flags().Bool("self-signed", false, "Trust whatever certificate the server presents")
	connectCmd.Flags().String("message", "", "Message to send; empty streams stdin")
	return connectCmd
}

// loadServiceConfig merges the optional config file with command flags.
// Flags override file values.
func loadServiceConfig(cmd *cobra.Command) (*config.ServiceConfig, error) {
	cfg := &config.ServiceConfig{LogLevel: defaultLogLevel}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg.SSL.Timeouts = config.DefaultTimeouts()
	}

	if v, _ := cmd.Flags().GetString("log-level"); cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = v
	}

	stringFlags := map[string]*string{
		"cert":       &cfg.SSL.CertificateFilePath,
		"key":        &cfg.SSL.KeyFilePath,
		"chain-file": &cfg.SSL.CertificateChainFilePath,
		"password":   &cfg.SSL.Password,
		"ca":         &cfg.SSL.CACertificateFilePath,
	}
	for name, target := range stringFlags {
		if cmd.Flags().Lookup(name) == nil {
			continue
		}
		if v, _ := cmd.Flags().GetString(name); cmd.Flags().Changed(name) {
			*target = v
		}
	}
	if cmd.Flags().Lookup("self-signed") != nil && cmd.Flags().Changed("self-signed") {
		cfg.SSL.CertsAreSelfSigned, _ = cmd.Flags().GetBool("self-signed")
	}
	if cmd.Flags().Lookup("listen") != nil && cmd.Flags().Changed("listen") {
		cfg.Listen, _ = cmd.Flags().GetString("listen")
	}
	if cmd.Flags().Lookup("metrics-listen") != nil && cmd.Flags().Changed("metrics-listen") {
		cfg.MetricsListen, _ = cmd.Flags().GetString("metrics-listen")
	}
	if cmd.Flags().Lookup("target") != nil && cmd.Flags().Changed("target") {
		cfg.Target, _ = cmd.Flags().GetString("target")
	}

	if cfg.SSL.KeyFilePath == "" {
		cfg.SSL.KeyFilePath = cfg.SSL.CertificateFilePath
	}
	return cfg, nil
}

// setup configures logging and telemetry, returning the structured logger
// and a telemetry shutdown function.
func setup(ctx context.Context, cfg *config.ServiceConfig, serviceName string) (*slog.Logger, func(context.Context) error, error) {
	logging.SetupLogger(logging.Config{Level: cfg.LogLevel, Pretty: true})
	logger := logging.NewSlogLogger(logging.Config{Level: cfg.LogLevel})
	slog.SetDefault(logger)

	shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("setup telemetry: %w", err)
	}
	return logger, shutdown, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServiceConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, telemetryShutdown, err := setup(ctx, cfg, "sslecho-server")
	if err != nil {
		return err
	}
	defer telemetryShutdown(context.Background())

	service := ssl.NewService(&cfg.SSL, logger)
	if err := service.Initialize(true); err != nil {
		return fmt.Errorf("initialize SSL service: %w", err)
	}
	defer service.Deinitialize()

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		if err := service.WatchCredentials(); err != nil {
			return fmt.Errorf("watch credentials: %w", err)
		}
	}

	if cfg.MetricsListen != "" {
		go serveMetrics(cfg.MetricsListen, logger)
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	defer listener.Close()

	logger.Info("echo server listening",
		"address", cfg.Listen,
		"self_signed", cfg.SSL.CertsAreSelfSigned)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("echo server stopped")
				return nil
			}
			logger.Error("accept failed", "error", err)
			continue
		}
		go handleConnection(ctx, service, conn.(*net.TCPConn), logger)
	}
}

// handleConnection wraps the accepted socket in a TLS session and echoes
// plaintext until the peer shuts down.
func handleConnection(ctx context.Context, service *ssl.Service, conn *net.TCPConn, logger *slog.Logger) {
	remote := conn.RemoteAddr().String()

	// File() duplicates the descriptor; the session operates on the dup and
	// the original conn is released immediately.
	file, err := conn.File()
	conn.Close()
	if err != nil {
		connectionErrors.Inc()
		logger.Error("descriptor extraction failed", "remote", remote, "error", err)
		return
	}
	defer file.Close()

	session, err := service.OnAccept(ctx, int(file.Fd()))
	if err != nil {
		connectionErrors.Inc()
		logger.Warn("handshake failed", "remote", remote, "error", err)
		return
	}
	defer session.Close()
	connectionsServed.Inc()

	buf := make([]byte, 32*1024)
	for {
		n, err := session.Recv(buf)
		if err != nil {
			connectionErrors.Inc()
			logger.Warn("recv failed", "remote", remote, "session_id", session.ID(), "error", err)
			return
		}
		if n == 0 {
			logger.Debug("peer closed session",
				"remote", remote,
				"session_id", session.ID(),
				"bytes_echoed", session.BytesSent())
			return
		}
		if _, err := session.Send(buf[:n]); err != nil {
			connectionErrors.Inc()
			logger.Warn("send failed", "remote", remote, "session_id", session.ID(), "error", err)
			return
		}
		bytesEchoed.Add(float64(n))
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(promhttp.Handler(), "metrics"))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics endpoint listening", "address", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", "error", err)
	}
}

func runConnect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServiceConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Target == "" {
		return fmt.Errorf("no target specified. Use: sslecho connect --target host:port")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, telemetryShutdown, err := setup(ctx, cfg, "sslecho-client")
	if err != nil {
		return err
	}
	defer telemetryShutdown(context.Background())

	service := ssl.NewService(&cfg.SSL, logger)
	if err := service.Initialize(false); err != nil {
		return fmt.Errorf("initialize SSL service: %w", err)
	}
	defer service.Deinitialize()

	conn, err := net.Dial("tcp", cfg.Target)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Target, err)
	}

	file, err := conn.(*net.TCPConn).File()
	conn.Close()
	if err != nil {
		return fmt.Errorf("extract descriptor: %w", err)
	}
	defer file.Close()

	session, err := service.OnConnect(ctx, int(file.Fd()))
	if err != nil {
		return fmt.Errorf("handshake with %s: %w", cfg.Target, err)
	}
	defer session.Close()

	logger.Info("session established", "target", cfg.Target, "session_id", session.ID())

	message, _ := cmd.Flags().GetString("message")
	if message != "" {
		return echoOnce(session, []byte(message))
	}
	return echoStream(session)
}

func echoOnce(session *ssl.Session, payload []byte) error {
	if _, err := session.Send(payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	buf := make([]byte, len(payload))
	total := 0
	for total < len(payload) {
		n, err := session.Recv(buf[total:])
		if err != nil {
			return fmt.Errorf("recv: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("server closed before echoing full payload")
		}
		total += n
	}

	fmt.Println(string(buf))
	return nil
}

func echoStream(session *ssl.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	buf := make([]byte, 32*1024)

	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		if _, err := session.Send(line); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		total := 0
		for total < len(line) {
			n, err := session.Recv(buf[:len(line)-total])
			if err != nil {
				return fmt.Errorf("recv: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("server closed mid-echo")
			}
			os.Stdout.Write(buf[:n])
			total += n
		}
	}
	return scanner.Err()
}
