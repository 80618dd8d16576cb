package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/pawmatch/match-app/internal/config"
	"github.com/pawmatch/match-app/internal/conversation"
	"github.com/pawmatch/match-app/internal/database"
	"github.com/pawmatch/match-app/internal/errs"
	"github.com/pawmatch/match-app/internal/flag"
	"github.com/pawmatch/match-app/internal/httpapi"
	"github.com/pawmatch/match-app/internal/identity"
	"github.com/pawmatch/match-app/internal/match"
	"github.com/pawmatch/match-app/internal/message"
	"github.com/pawmatch/match-app/internal/messaging"
	"github.com/pawmatch/match-app/internal/metrics"
	"github.com/pawmatch/match-app/internal/moderation"
	"github.com/pawmatch/match-app/internal/presence"
	"github.com/pawmatch/match-app/internal/protocol"
	"github.com/pawmatch/match-app/internal/ratelimit"
	"github.com/pawmatch/match-app/internal/sanction"
	"github.com/pawmatch/match-app/internal/ws"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	wsConfig := ws.DefaultServerConfig()
	wsConfig.ListenAddr = cfg.WSAddr
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			wsConfig.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			wsConfig.WriteTimeout = d
		}
	}

	// --- PostgreSQL ---
	db, err := database.Open(cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
	}

	// --- NATS (optional; absent means single-node delivery) ---
	var natsClient *messaging.NATSClient
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsClient, err = messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Printf("NATS unavailable (%v), running single-node delivery", err)
		natsClient = nil
	}

	log.Printf("Pawmatch match server starting")
	log.Printf("  http_addr:       %s", cfg.HTTPAddr)
	log.Printf("  ws_addr:         %s", wsConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", wsConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", wsConfig.MaxConnections)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s (connected=%v)", cfg.NATSURL, natsClient != nil)
	log.Printf("  node_name:       %s", cfg.NodeName)

	// --- Core wiring ---
	dir := identity.NewPostgresDirectory(db)
	listings := identity.NewListingDirectory(db)
	registry := match.NewRegistry(db, dir)
	store := message.NewStore(db)
	projector := conversation.NewProjector(db)
	limiter := ratelimit.NewLimiter(rdb)
	sanctions := sanction.NewStore(rdb)
	var bridge presence.Bridge
	if natsClient != nil {
		bridge = natsClient
	}
	router := presence.NewRouter(bridge)
	filter := moderation.NewFilter()

	ledger := flag.NewLedger(db, rdb, map[flag.Kind]flag.Resolver{
		flag.KindUser: func(ctx context.Context, targetID string) (bool, error) {
			return dir.Exists(ctx, identity.ID(targetID))
		},
		flag.KindListing: listings.Exists,
		flag.KindMessage: func(ctx context.Context, targetID string) (bool, error) {
			id, err := uuid.Parse(targetID)
			if err != nil {
				return false, nil
			}
			if _, err := store.GetByID(ctx, id); err != nil {
				if errs.IsKind(err, errs.NotFound) {
					return false, nil
				}
				return false, err
			}
			return true, nil
		},
	}, sanctions)

	// The filter runs after commit; a hit files a system flag against the
	// message instead of blocking delivery.
	autoFlag := func(ctx context.Context, messageID string, reason string) {
		if _, err := ledger.File(ctx, identity.System, flag.KindMessage, messageID, "auto: "+reason); err != nil {
			log.Printf("auto-flag failed for message=%s: %v", messageID, err)
		}
	}

	svc := message.NewService(store, registry, dir, sanctions, filter, router, autoFlag)

	// --- Token verifier ---
	// AUTH_TOKENS ("token=identity,token=identity") overrides the Redis
	// verifier for local development.
	var verifier identity.TokenVerifier = identity.NewRedisVerifier(rdb)
	if v := os.Getenv("AUTH_TOKENS"); v != "" {
		static := identity.StaticVerifier{}
		for _, pair := range strings.Split(v, ",") {
			token, id, ok := strings.Cut(pair, "=")
			if ok {
				static[token] = identity.ID(id)
			}
		}
		verifier = static
		log.Printf("  auth:            static (%d tokens)", len(static))
	}

	// --- WebSocket message handlers ---
	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// message — send to a matched recipient
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if allowed, lerr := limiter.Allow(ctx, string(conn.Identity), ratelimit.RuleMessage); lerr == nil && !allowed {
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleMessage.Window.Seconds()),
			})
			conn.WriteMessage(resp)
			return
		}

		m, err := svc.Send(ctx, conn.Identity, identity.ID(sendMsg.RecipientID), sendMsg.Body)
		if err != nil {
			if errs.IsKind(err, errs.Unauthorized) {
				if muted, remaining, reason, merr := sanctions.IsMuted(ctx, conn.Identity); merr == nil && muted {
					resp, _ := protocol.NewServerMessage(protocol.TypeMuted, protocol.MutedMsg{
						Remaining: remaining,
						Reason:    reason,
					})
					conn.WriteMessage(resp)
					return
				}
			}
			kind := errs.KindOf(err)
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code:    string(kind),
				Message: err.Error(),
			})
			conn.WriteMessage(resp)
			return
		}

		ack, _ := protocol.NewServerMessage(protocol.TypeMessageSent, protocol.MessageSentMsg{
			MessageID: m.ID.String(),
			Seq:       m.Seq,
			Ts:        m.CreatedAt.Unix(),
		})
		conn.WriteMessage(ack)
	})

	// -----------------------------------------------------------------------
	// typing — relay the indicator to a matched peer, never persisted
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		peer := identity.ID(typingMsg.PeerID)
		matched, err := registry.IsMatched(ctx, conn.Identity, peer)
		if err != nil || !matched {
			return
		}
		router.NotifyTyping(conn.Identity, peer, typingMsg.IsTyping)
	})

	// -----------------------------------------------------------------------
	// mark_read — advance the caller's read watermark
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMarkRead, func(conn *ws.Connection, msg interface{}) {
		readMsg, ok := msg.(protocol.MarkReadMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := projector.MarkRead(ctx, conn.Identity, identity.ID(readMsg.PeerID), readMsg.ThroughSeq); err != nil {
			log.Printf("mark_read failed identity=%s peer=%s: %v", conn.Identity, readMsg.PeerID, err)
		}
	})

	wsServer := ws.NewServer(wsConfig, verifier, router, limiter, dispatcher.Dispatch)
	dispatcher.SetServer(wsServer)

	// --- HTTP API ---
	matchHandler := httpapi.NewMatchHandler(registry, limiter, router)
	messageHandler := httpapi.NewMessageHandler(svc, projector, limiter)
	flagHandler := httpapi.NewFlagHandler(ledger, limiter)

	auth := httpapi.Auth(verifier)
	protected := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/matches", protected(matchHandler.Request))
	mux.Handle("GET /api/v1/matches", protected(matchHandler.List))
	mux.Handle("DELETE /api/v1/matches/{user_id}", protected(matchHandler.Unmatch))
	mux.Handle("POST /api/v1/messages", protected(messageHandler.Send))
	mux.Handle("GET /api/v1/conversations", protected(messageHandler.Conversations))
	mux.Handle("GET /api/v1/conversations/{peer}/messages", protected(messageHandler.History))
	mux.Handle("POST /api/v1/conversations/{peer}/read", protected(messageHandler.MarkRead))
	mux.Handle("POST /api/v1/flags", protected(flagHandler.File))
	mux.Handle("GET /api/v1/flags/{kind}", protected(flagHandler.ListFlagged))
	mux.Handle("GET /api/v1/flags/{kind}/{target}", protected(flagHandler.TargetState))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.Logging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("http: api listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		if err := wsServer.Shutdown(); err != nil {
			log.Printf("ws shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := wsServer.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
