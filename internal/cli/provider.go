package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/nanobot/internal/logger"
	"github.com/harun/nanobot/pkg/coretools"
	"github.com/harun/nanobot/pkg/provider"
	"github.com/harun/nanobot/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var (
	providerCore       string
	providerListen     string
	providerAdvertise  string
	providerInstanceID string
	providerInterval   time.Duration
	providerSecret     string
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Run a tool provider that registers with a core",
	Long: `Run a tool provider node. The built-in tools are served over HTTP and
announced to the core, which then dispatches matching tool calls here.
The provider heartbeats the core and re-registers after a core restart.`,
	Args: cobra.NoArgs,
	RunE: runProvider,
}

func init() {
	providerCmd.Flags().StringVar(&providerCore, "core", "http://127.0.0.1:18789", "core gateway URL")
	providerCmd.Flags().StringVar(&providerListen, "listen", "127.0.0.1:18800", "address to serve tools on")
	providerCmd.Flags().StringVar(&providerAdvertise, "advertise", "", "URL the core should call (default derived from --listen)")
	providerCmd.Flags().StringVar(&providerInstanceID, "instance-id", "", "instance id (default hostname plus a random suffix)")
	providerCmd.Flags().DurationVar(&providerInterval, "interval", provider.DefaultHeartbeatInterval, "heartbeat interval")
	providerCmd.Flags().StringVar(&providerSecret, "secret", os.Getenv("NANOBOT_GATEWAY_SHARED_SECRET"), "core shared secret")
	rootCmd.AddCommand(providerCmd)
}

func runProvider(cmd *cobra.Command, args []string) error {
	level := logLevel
	if level == "" {
		level = "info"
	}
	log, err := logger.New(logger.Config{Level: level, Console: true, Pretty: true, Redaction: true})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	executor := toolexecutor.New()
	if err := coretools.RegisterCoreTools(executor, coretools.Options{}); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", providerListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", providerListen, err)
	}

	advertise := providerAdvertise
	if advertise == "" {
		advertise = "http://" + ln.Addr().String()
	}

	mux := http.NewServeMux()
	provider.NewHandler(executor, log.Component("provider")).Routes(mux)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Zerolog().Error().Err(err).Msg("Provider server error")
		}
	}()

	reporter, err := provider.NewReporter(provider.ReporterConfig{
		CoreURL:      providerCore,
		InstanceID:   providerInstanceID,
		Address:      advertise,
		Interval:     providerInterval,
		Secret:       providerSecret,
		Capabilities: provider.CapabilitiesOf(executor),
		Logger:       log.Component("reporter"),
	})
	if err != nil {
		_ = server.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter.Start(ctx)
	cmd.Printf("provider %s serving %d tools on %s\n", reporter.InstanceID(), executor.GetToolCount(), advertise)

	<-ctx.Done()

	reporter.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
