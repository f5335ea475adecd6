package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cmwaters/bnms"
	"github.com/cmwaters/bnms/config"
	"github.com/cmwaters/bnms/metrics"
	"github.com/cmwaters/bnms/notary"
	"github.com/cmwaters/bnms/pkg/party"
	"github.com/cmwaters/bnms/pkg/sign"
	"github.com/cmwaters/bnms/vault"
)

func newStartCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the node",
		Long: `Start the node and serve flows until interrupted.

Examples:
  bnnode start --name alice --serve-notary
  bnnode start --name bob --notary /ip4/10.0.0.1/tcp/7400/p2p/12D3Koo... \
      --peer alice=/ip4/10.0.0.1/tcp/7400/p2p/12D3Koo...
  bnnode start --config /etc/bnms/bnms.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return start(ctx, cfg)
		},
	}

	config.BindFlags(cmd, v)
	cmd.Flags().StringVar(&configFile, "config", "", "config file path")
	return cmd
}

func newIDCmd() *cobra.Command {
	var dataDir, keyFile string

	cmd := &cobra.Command{
		Use:   "id",
		Short: "Print the node's peer id",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadKey(config.Config{DataDir: dataDir, KeyFile: keyFile})
			if err != nil {
				return err
			}
			id, err := peer.IDFromPrivateKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "data directory")
	cmd.Flags().StringVar(&keyFile, "key-file", "node.key", "private key file, relative to the data directory")
	return cmd
}

func loadKey(cfg config.Config) (crypto.PrivKey, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	key, err := sign.LoadOrCreateKey(cfg.KeyPath())
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	return key, nil
}

func start(ctx context.Context, cfg config.Config) error {
	logger := cfg.Logger()

	key, err := loadKey(cfg)
	if err != nil {
		return err
	}
	signer, err := sign.NewKeySigner(cfg.Name, key)
	if err != nil {
		return err
	}

	h, err := libp2p.New(libp2p.Identity(key), libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer h.Close()
	for _, addr := range h.Addrs() {
		logger.Info().Str("addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID())).Msg("listening")
	}

	var v *vault.Vault
	vlog := vault.WithLogger(logger.With().Str("component", "vault").Logger())
	if cfg.Store.InMemory {
		v, err = vault.NewInMemory(vlog)
	} else {
		v, err = vault.Open(filepath.Join(cfg.DataDir, "vault"), vlog)
	}
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	m := metrics.New()
	opts := []bnms.Option{bnms.WithLogger(logger), bnms.WithMetrics(m)}
	if cfg.Notary.Serve {
		// clients check notarizations against the host id of the notary
		opts = append(opts, bnms.ServeNotary(notary.NewMemory(signer,
			notary.WithLogger(logger.With().Str("component", "notary").Logger()),
			notary.WithMetrics(m),
		)))
	} else {
		info, err := peer.AddrInfoFromString(cfg.Notary.Peer)
		if err != nil {
			_ = v.Close()
			return fmt.Errorf("parse notary address: %w", err)
		}
		opts = append(opts, bnms.UseNotary(party.New("notary", info.ID), *info))
	}

	node, err := bnms.New(h, signer, v, opts...)
	if err != nil {
		_ = v.Close()
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Error().Err(err).Msg("closing node")
		}
	}()

	for _, p := range cfg.Peers {
		name, addr, _ := strings.Cut(p, "=")
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			return fmt.Errorf("parse peer %s: %w", name, err)
		}
		node.AddPeer(name, *info)
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go serveMetrics(srv, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func serveMetrics(srv *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", srv.Addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server")
	}
}
