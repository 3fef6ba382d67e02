package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	helperconfig "github.com/ipaproto/helper/pkg/config"
	"github.com/ipaproto/helper/pkg/crypto"
	"github.com/ipaproto/helper/pkg/log"
	"github.com/ipaproto/helper/pkg/metrics"
	"github.com/ipaproto/helper/pkg/network"
	"github.com/ipaproto/helper/pkg/query"
	"github.com/ipaproto/helper/pkg/security"
	"github.com/ipaproto/helper/pkg/transport/https"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this helper's Query/H2H HTTPS listener",
	Long: `serve loads a peer/identity/TLS configuration file and starts the
combined Query API + helper-to-helper API listener on one port,
blocking until SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to the helper YAML config file (required)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics, /health, /ready, /live endpoints")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := helperconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := log.WithComponent("serve")
	logger.Info().Str("self", cfg.Self).Str("listen", cfg.ListenAddr).Msg("starting helper")

	serverCert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	caPool, err := security.LoadCAPool(cfg.TLS.CAFile)
	if err != nil {
		return fmt.Errorf("failed to load CA bundle: %w", err)
	}

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	clientTLS := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}

	httpsTransport := https.New(https.Config{
		Self:      cfg.SelfIdentity(),
		Addresses: https.AddressBook(cfg.Addresses()),
		Client: &http.Client{
			Transport: &http.Transport{TLSClientConfig: clientTLS},
			Timeout:   30 * time.Second,
		},
	})

	var cipher *crypto.RecordCipher
	if cfg.RecordCipherKeyFile != "" {
		key, err := os.ReadFile(cfg.RecordCipherKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read record cipher key: %w", err)
		}
		cipher, err = crypto.NewRecordCipher(key)
		if err != nil {
			return fmt.Errorf("failed to construct record cipher: %w", err)
		}
	}

	proc := query.New(query.Config{
		Self:            cfg.SelfIdentity(),
		Transport:       httpsTransport,
		Cipher:          cipher,
		GatewayConfig:   cfg.GatewayConfigOrDefault(),
		GatewayObserver: metrics.GatewayObserver{},
		QueryTimeout:    cfg.QueryTimeout,
	})

	timeoutSup := query.NewTimeoutSupervisor(proc)
	timeoutSup.Start()
	defer timeoutSup.Stop()

	srv := network.New(network.Config{
		Self:      cfg.SelfIdentity(),
		Followers: cfg.FollowerIdentities(),
		Processor: proc,
		HTTPS:     httpsTransport,
		TLSConfig: serverTLS,
	})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("transport", true, "ready")
	metrics.RegisterComponent("gateway", true, "ready")
	metrics.RegisterComponent("network", false, "starting")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServeTLS(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	metrics.RegisterComponent("network", true, "ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("listener error")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}
