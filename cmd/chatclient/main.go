package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/marketdesk/chat-session/internal/api"
	"github.com/marketdesk/chat-session/internal/auth"
	"github.com/marketdesk/chat-session/internal/chat"
	"github.com/marketdesk/chat-session/internal/config"
	"github.com/marketdesk/chat-session/internal/enrich"
	"github.com/marketdesk/chat-session/internal/live"
	"github.com/marketdesk/chat-session/internal/logging"
	"github.com/marketdesk/chat-session/internal/messaging"
	"github.com/marketdesk/chat-session/internal/metrics"
	"github.com/marketdesk/chat-session/internal/session"
)

// liveTransport is a session.LiveChannel that can be shut down.
type liveTransport interface {
	session.LiveChannel
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Environment)
	defer logger.Sync()

	logger.Infow("chat client starting",
		"api_base_url", cfg.APIBaseURL,
		"live_transport", cfg.LiveTransport,
		"role", cfg.Role,
		"redis_addr", cfg.RedisAddr,
		"optimistic_send", cfg.OptimisticSend,
	)

	// --- Credentials ---
	var (
		creds auth.Source = auth.Static{AccessToken: cfg.Token, UserID: cfg.UserID}
		rdb   *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb, err = auth.Dial(cfg.RedisAddr)
		if err != nil {
			logger.Fatalw("failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
		}
		defer rdb.Close()
		creds = auth.NewRedisStore(rdb, cfg.SessionKey)
	}

	apiClient := api.New(api.Config{BaseURL: cfg.APIBaseURL, Timeout: cfg.APITimeout}, creds, logger.Named("api"))

	// --- Live channel ---
	var transport liveTransport
	switch cfg.LiveTransport {
	case config.TransportNATS:
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Timeout = cfg.LiveDialTimeout
		if id, err := creds.CurrentUserID(context.Background()); err == nil {
			natsConfig.UserID = id
		}
		transport = messaging.NewChannel(natsConfig, logger.Named("nats"))
	default:
		liveConfig := live.DefaultConfig()
		liveConfig.URL = cfg.LiveURL
		liveConfig.DialTimeout = cfg.LiveDialTimeout
		liveConfig.JoinTimeout = cfg.LiveJoinTimeout
		liveConfig.PingInterval = cfg.LivePingInterval
		transport = live.New(liveConfig, logger.Named("live"))
	}
	defer transport.Close()

	// --- Enrichment ---
	var cache enrich.Cache = enrich.NewMemoryCache(cfg.ProfileTTL)
	if rdb != nil {
		cache = enrich.NewRedisCache(rdb, cfg.ProfileTTL)
	}
	enricher := enrich.New(apiClient, cache, logger.Named("enrich"))

	out := &printer{w: bufio.NewWriter(os.Stdout)}
	opts := []session.Option{
		session.WithLogger(logger.Named("session")),
		session.WithResolver(enricher),
		session.WithTimelineObserver(out.timeline),
		session.WithTypingObserver(out.typing),
	}
	if cfg.OptimisticSend {
		opts = append(opts, session.WithOptimisticSend())
	}
	if cfg.SendRate > 0 {
		opts = append(opts, session.WithSendLimit(rate.Limit(cfg.SendRate), cfg.SendBurst))
	}
	ctrl := session.New(session.Config{
		Role:            chat.Role(cfg.Role),
		RoomPageSize:    cfg.RoomPageSize,
		HistoryPageSize: cfg.HistoryPageSize,
	}, apiClient, transport, creds, opts...)

	// --- Metrics ---
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Open(ctx); err != nil {
		logger.Fatalw("failed to open session", "error", err)
	}
	out.rooms(ctrl.Rooms())

	lines := make(chan string)
	go readLines(lines)

	for done := false; !done; {
		select {
		case <-ctx.Done():
			logger.Infow("received signal, shutting down")
			done = true
		case line, ok := <-lines:
			done = !ok || handleLine(ctx, ctrl, out, logger, line)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Close(shutdownCtx); err != nil {
		logger.Warnw("session close failed", "error", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	logger.Infow("chat client stopped")
}

// handleLine runs one stdin command and reports whether the client should
// exit.
func handleLine(ctx context.Context, ctrl *session.Controller, out *printer, logger *zap.SugaredLogger, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/rooms":
		out.rooms(ctrl.Rooms())
	case strings.HasPrefix(line, "/room "):
		roomID := strings.TrimSpace(strings.TrimPrefix(line, "/room "))
		// Selection runs in the background so a newer /room can supersede it.
		go func() {
			if err := ctrl.SelectRoom(ctx, roomID); err != nil && !errors.Is(err, session.ErrSuperseded) {
				logger.Warnw("select room failed", "room_id", roomID, "error", err)
			}
		}()
	default:
		// Input arrives a line at a time, so typing is announced for the
		// duration of the send and cleared once it completes.
		setTyping(ctx, ctrl, logger, true)
		if err := ctrl.Send(ctx, line); err != nil {
			out.notice("send failed: %v", err)
		}
		setTyping(ctx, ctrl, logger, false)
	}
	return false
}

func setTyping(ctx context.Context, ctrl *session.Controller, logger *zap.SugaredLogger, on bool) {
	if err := ctrl.SetTyping(ctx, on); err != nil {
		logger.Debugw("typing indicator failed", "is_typing", on, "error", err)
	}
}

func readLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
