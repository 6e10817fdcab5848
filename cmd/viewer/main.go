package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"redlive/internal/core/domain"
	"redlive/internal/core/services"
	"redlive/internal/infrastructure/agent"
	"redlive/internal/infrastructure/api"
	"redlive/internal/infrastructure/media"
	"redlive/internal/infrastructure/monitoring"
	"redlive/internal/infrastructure/peer"
	"redlive/internal/infrastructure/signaling"
	"redlive/pkg/config"
	"redlive/pkg/logger"
	"redlive/pkg/retry"
	"redlive/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v3"
)

func main() {
	godotenv.Load()

	streamID := flag.String("stream", "", "stream id to watch")
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if *streamID == "" {
		fmt.Fprintln(os.Stderr, "usage: viewer -stream <id>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName + "-viewer",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Sugar().Fatalw("failed to init tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	identity, err := api.ParseIdentity(cfg.Auth.Token)
	if err != nil {
		log.Sugar().Fatalw("invalid auth token", "error", err)
	}

	var (
		collector   *monitoring.Collector
		chanMetrics signaling.Metrics
		hubMetrics  peer.Metrics
		chatMetrics services.ChatMetrics
		sessMetrics services.SessionMetrics
	)
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewCollector(nil)
		chanMetrics = collector
		hubMetrics = collector
		chatMetrics = collector
		sessMetrics = collector
	}

	retryCfg := retry.DefaultConfig()
	if cfg.Backend.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Backend.RetryAttempts
	}
	apiClient := api.NewClient(cfg.Backend.BaseURL, cfg.Auth.Token, cfg.Backend.RequestTimeout, retryCfg, log)

	proxy := agent.NewEventsProxy()
	channel := signaling.NewChannel(signaling.Config{
		BaseURL:           cfg.Signaling.URL,
		ReconnectAttempts: cfg.Signaling.ReconnectAttempts,
		ReconnectDelay:    cfg.Signaling.ReconnectDelay,
		PingInterval:      cfg.Signaling.PingInterval,
		PongTimeout:       cfg.Signaling.PongTimeout,
		WriteTimeout:      cfg.Signaling.WriteTimeout,
	}, proxy, chanMetrics, log)

	// Viewers never capture; the manager exists to satisfy the session's
	// cleanup path.
	capture := media.NewManager(media.NewSyntheticDevices(), log)

	rendezvous := peer.NewRendezvous(peer.RendezvousConfig{
		URL: cfg.Rendezvous.URL,
		Key: cfg.Rendezvous.Key,
	}, log)
	hub, err := peer.NewHub(peer.HubConfig{
		ICEServers: iceServers(cfg),
		PortMin:    cfg.WebRTC.PortRange.Min,
		PortMax:    cfg.WebRTC.PortRange.Max,
	}, rendezvous, hubMetrics, log)
	if err != nil {
		log.Sugar().Fatalw("failed to build peer hub", "error", err)
	}
	hub.SetRenderSurface(agent.NewLogRenderSurface(log))

	chat := services.NewChatRelay(channel, apiClient, services.ChatConfig{
		MessagesPerSecond: cfg.Chat.MessagesPerSecond,
		Burst:             cfg.Chat.Burst,
	}, chatMetrics, log)
	chat.OnComment(func(c domain.DecoratedComment) {
		log.Sugar().Infow("chat",
			"author", c.AuthorName,
			"badges", c.Badges,
			"color", c.Color,
			"content", c.Content,
		)
	})

	controller := services.NewSessionController(
		services.SessionConfig{},
		apiClient, channel, capture, hub, chat,
		agent.NewLogNotifier(log), agent.NewNopFullscreen(),
		*identity, cfg.Auth.Token, sessMetrics, log,
	)
	proxy.Bind(controller)

	var statusServer *monitoring.Server
	if cfg.Monitoring.PrometheusEnabled {
		statusServer = monitoring.NewServer(cfg.Monitoring.StatusAddress, func() monitoring.Status {
			snap := controller.Snapshot()
			return monitoring.Status{
				State:       string(snap.State),
				StreamID:    string(snap.StreamID),
				ViewerCount: snap.ViewerCount,
				OpenLinks:   len(hub.Links()),
				Degraded:    snap.Degraded,
				StartedAt:   snap.StartedAt,
			}
		}, log)
		statusServer.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Join(ctx, domain.StreamID(*streamID)); err != nil {
		log.Sugar().Fatalw("failed to join stream", "stream_id", *streamID, "error", err)
	}
	if controller.State() == services.StateEnded {
		log.Sugar().Infow("stream already ended", "stream_id", *streamID)
		return
	}

	if err := controller.Watch(ctx); err != nil {
		log.Sugar().Warnw("watch pending", "error", err)
	}

	<-ctx.Done()
	log.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	controller.Leave(shutdownCtx)
	if statusServer != nil {
		statusServer.Shutdown(shutdownCtx)
	}
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
