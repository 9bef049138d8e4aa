// fastftp serves a directory tree over FTP with zero-copy downloads, and
// optionally over SFTP with Prometheus metrics on an HTTP side port.
//
// Settings come from flags, FASTFTP_* environment variables and an optional
// YAML file (see the config package).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/telebroad/fastftp/config"
	"github.com/telebroad/fastftp/filesystem"
	"github.com/telebroad/fastftp/ftp"
	"github.com/telebroad/fastftp/httphandler"
	"github.com/telebroad/fastftp/keys"
	"github.com/telebroad/fastftp/metrics"
	"github.com/telebroad/fastftp/notify"
	"github.com/telebroad/fastftp/sftp"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var configFile string

	root := &cobra.Command{
		Use:   "fastftp",
		Short: "High speed FTP server",
		Long: `Serve a directory over FTP. Downloads use sendfile when the platform
supports it. Any user name and password are accepted.

Examples:
  fastftp --root /srv/ftp --data-port-start 30000 --data-port-end 30100
  FASTFTP_PUBLIC_IPV4=auto fastftp --metrics-addr :9100`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			level, _ := cfg.SlogLevel()
			logger := setupLogger(os.Stdout, level)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	cobra.CheckErr(config.BindFlags(v, root.Flags()))

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "fastftp", version)
		},
	})
	return root
}

func setupLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		AddSource:  true,
		Level:      level,
		TimeFormat: time.DateTime,
	})
	logger := slog.New(handler).With("app", "fastftp")
	logger.Debug("Logger initialized", "level", level)
	return logger
}

// run starts every configured server and blocks until ctx is done or one of
// them fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	fsys, err := filesystem.New(cfg.Root)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	ftpServer, err := newFTPServer(ctx, cfg, fsys, logger)
	if err != nil {
		return err
	}
	ftpServer.Metrics = collector

	var sftpServer *sftp.Server
	if cfg.SFTP.Addr != "" {
		if sftpServer, err = newSFTPServer(cfg, fsys, logger); err != nil {
			return err
		}
	}

	var closers []func() error
	if cfg.Metrics.Addr != "" {
		handler := httphandler.NewHandler(reg, ftpServer.Sessions())
		handler.SetLogger(logger.With("module", "http"))
		httpServer := httphandler.NewServer(cfg.Metrics.Addr, handler)
		if err := httpServer.TryListenAndServe(time.Second); err != nil {
			return fmt.Errorf("error starting metrics server: %w", err)
		}
		logger.Info("Metrics server started", "addr", cfg.Metrics.Addr)
		closers = append(closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		for _, closeFn := range closers {
			closeFn()
		}
		return fmt.Errorf("error starting ftp server: %w", err)
	}
	announce(ftpServer.Notifier, listener.Addr(), logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreClosed(ftpServer.Serve(listener), ftp.ErrServerClosed)
	})
	closers = append(closers, ftpServer.Close)

	if sftpServer != nil {
		g.Go(func() error {
			return ignoreClosed(sftpServer.ListenAndServe(), sftp.ErrServerClosed)
		})
		closers = append(closers, sftpServer.Close)
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		var result *multierror.Error
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})

	return g.Wait()
}

func newFTPServer(ctx context.Context, cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*ftp.Server, error) {
	server, err := ftp.NewServer(cfg.ListenAddr, fsys)
	if err != nil {
		return nil, err
	}
	server.SetLogger(logger.With("module", "ftp-server"))
	server.WelcomeMessage = cfg.Banner
	server.PasvMinPort = cfg.DataPortStart
	server.PasvMaxPort = cfg.DataPortEnd
	server.BufferSize = cfg.BufferSize
	server.DisableZeroCopy = !cfg.ZeroCopy
	server.Notifier = notify.NewLogNotifier(logger.With("module", "notify"))

	publicIP := cfg.PublicIPv4
	if publicIP == config.PublicIPAuto {
		logger.Info("Getting public ip from ipify.org")
		publicIP, err = ftp.GetServerPublicIP(ctx)
		if err != nil {
			return nil, err
		}
	}
	if publicIP != "" {
		if err := server.SetPublicServerIPv4(publicIP); err != nil {
			return nil, err
		}
		logger.Info("Announcing public address in PASV replies", "ip", publicIP)
	}
	return server, nil
}

func newSFTPServer(cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*sftp.Server, error) {
	hostKey, err := keys.LoadOrGenerate(cfg.SFTP.HostKey, cfg.SFTP.HostKeyType)
	if err != nil {
		return nil, err
	}
	server, err := sftp.NewSFTPServer(cfg.SFTP.Addr, fsys, hostKey)
	if err != nil {
		return nil, err
	}
	server.SetLogger(logger.With("module", "sftp-server"))
	return server, nil
}

// announce reports where clients can reach the control port.
func announce(n notify.Notifier, addr net.Addr, logger *slog.Logger) {
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	ip, err := ftp.LocalIPv4()
	if err != nil {
		logger.Warn("No local IPv4 address found", "error", err)
		ip = net.IPv4(127, 0, 0, 1)
	}
	n.Notify("FTP Server: " + net.JoinHostPort(ip.String(), strconv.Itoa(port)))
}

func ignoreClosed(err, closed error) error {
	if errors.Is(err, closed) {
		return nil
	}
	return err
}
