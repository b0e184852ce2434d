package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yicheng-lo/prayerbot/internal/bot"
	"github.com/yicheng-lo/prayerbot/internal/line"
	"github.com/yicheng-lo/prayerbot/internal/metrics"
	"github.com/yicheng-lo/prayerbot/internal/middleware"
	"github.com/yicheng-lo/prayerbot/internal/service"
	"github.com/yicheng-lo/prayerbot/internal/storage"
	"github.com/yicheng-lo/prayerbot/internal/storage/mongo"
	"github.com/yicheng-lo/prayerbot/internal/storage/sqlite"
	"github.com/yicheng-lo/prayerbot/pkg/logging"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

type config struct {
	port          string
	channelSecret string

	// Static long-lived token, or channel-key material for issued tokens.
	channelToken   string
	channelID      string
	channelKeyID   string
	channelKeyPath string

	targetGroupID string
	commandPrefix string

	storeBackend string
	mongoURI     string
	mongoDB      string
	dbPath       string

	policy service.Policy
}

func loadConfig() (config, error) {
	cfg := config{
		port:           getEnv("PORT", "8080"),
		channelSecret:  os.Getenv("LINE_CHANNEL_SECRET"),
		channelToken:   os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		channelID:      os.Getenv("LINE_CHANNEL_ID"),
		channelKeyID:   os.Getenv("LINE_CHANNEL_KEY_ID"),
		channelKeyPath: os.Getenv("LINE_CHANNEL_PRIVATE_KEY"),
		targetGroupID:  os.Getenv("TARGET_GROUP_ID"),
		commandPrefix:  os.Getenv("COMMAND_PREFIX"),
		storeBackend:   getEnv("STORE_BACKEND", "sqlite"),
		mongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		mongoDB:        getEnv("MONGO_DB", "prayerbot"),
		dbPath:         getEnv("DB_PATH", "./data/prayerbot.db"),
		policy: service.Policy{
			MemberKey: service.MemberKeyPolicy(getEnv("MEMBER_KEY_POLICY", string(service.KeyByIdentity))),
			Admin:     service.AdminPolicy(getEnv("ADMIN_POLICY", string(service.AdminSet))),
		},
	}

	if cfg.channelSecret == "" {
		return cfg, fmt.Errorf("LINE_CHANNEL_SECRET is required")
	}
	if cfg.channelToken == "" && (cfg.channelID == "" || cfg.channelKeyID == "" || cfg.channelKeyPath == "") {
		return cfg, fmt.Errorf("either LINE_CHANNEL_ACCESS_TOKEN or LINE_CHANNEL_ID + LINE_CHANNEL_KEY_ID + LINE_CHANNEL_PRIVATE_KEY is required")
	}
	switch cfg.policy.MemberKey {
	case service.KeyByIdentity, service.KeyByDisplayName:
	default:
		return cfg, fmt.Errorf("MEMBER_KEY_POLICY must be %q or %q", service.KeyByIdentity, service.KeyByDisplayName)
	}
	switch cfg.policy.Admin {
	case service.SingleAdmin, service.AdminSet:
	default:
		return cfg, fmt.Errorf("ADMIN_POLICY must be %q or %q", service.SingleAdmin, service.AdminSet)
	}
	return cfg, nil
}

// app is the ready-to-serve handle built once at startup: either every
// collaborator initialized, or a typed error and no server at all.
type app struct {
	cfg    config
	store  storage.Store
	client *line.Client
	router *bot.Router
}

func newApp(ctx context.Context, cfg config) (*app, error) {
	var store storage.Store
	var err error
	switch cfg.storeBackend {
	case "mongo":
		store, err = mongo.New(ctx, cfg.mongoURI, cfg.mongoDB)
	case "sqlite":
		store, err = sqlite.New(cfg.dbPath)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.storeBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	store = storage.Instrumented(store, metrics.StoreOpDuration)

	var tokens line.TokenSource
	if cfg.channelToken != "" {
		tokens = line.StaticToken(cfg.channelToken)
	} else {
		keyPEM, err := os.ReadFile(cfg.channelKeyPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to read channel private key: %w", err)
		}
		tokens, err = line.NewChannelTokenSource(cfg.channelID, cfg.channelKeyID, keyPEM)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	client := line.NewClient(tokens)

	roster := service.NewRosterService(store, cfg.policy)
	rounds := service.NewRoundService(store, roster)
	router := bot.NewRouter(bot.Config{
		TargetGroupID: cfg.targetGroupID,
		CommandPrefix: cfg.commandPrefix,
		Policy:        cfg.policy,
	}, roster, rounds, client, client)

	return &app{cfg: cfg, store: store, client: client, router: router}, nil
}

// handleCallback is the single inbound webhook endpoint: 400 on a bad
// signature, 500 on any other decode failure, fixed OK body on success.
// Command-level failures never surface here; the router converts them to
// replies.
func (a *app) handleCallback(w http.ResponseWriter, r *http.Request) {
	events, err := line.ParseRequest(a.cfg.channelSecret, r)
	if errors.Is(err, line.ErrInvalidSignature) {
		metrics.WebhookRequests.WithLabelValues("bad_signature").Inc()
		slog.Error("Webhook signature mismatch", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("error").Inc()
		slog.Error("Webhook decode failed", "error", err)
		http.Error(w, "webhook error", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	for _, ev := range events {
		a.handleLineEvent(ctx, ev)
	}

	metrics.WebhookRequests.WithLabelValues("ok").Inc()
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (a *app) handleLineEvent(ctx context.Context, ev line.Event) {
	switch {
	case ev.Type == "message" && ev.Message != nil && ev.Message.Type == "text":
		if err := a.router.HandleEvent(ctx, toBotEvent(ev)); err != nil {
			slog.Error("Event handling failed", "user_id", ev.Source.UserID, "error", err)
		}
	case ev.Type == "follow":
		// Greet a new direct-chat contact with the command overview.
		if err := a.client.ReplyText(ctx, ev.ReplyToken, a.router.HelpText()); err != nil {
			slog.Error("Failed to send greeting", "user_id", ev.Source.UserID, "error", err)
		}
	}
}

// toBotEvent collapses the platform's source kinds into the router's
// tagged scope: user chats are direct, group and room chats are shared.
func toBotEvent(ev line.Event) bot.Event {
	out := bot.Event{
		UserID:     ev.Source.UserID,
		ReplyToken: ev.ReplyToken,
		Text:       ev.Message.Text,
	}
	switch ev.Source.Type {
	case "group":
		out.Scope = bot.ScopeGroup
		out.GroupID = ev.Source.GroupID
	case "room":
		out.Scope = bot.ScopeGroup
		out.GroupID = ev.Source.RoomID
	default:
		out.Scope = bot.ScopeDirect
	}
	return out
}

func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		http.Error(w, "store unreachable", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprint(w, "ok")
}

func main() {
	logging.Setup()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	app, err := newApp(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.store.Close()
	slog.Info("Storage initialized", "backend", cfg.storeBackend)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /callback", app.handleCallback)
	mux.HandleFunc("GET /healthz", app.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := ":" + cfg.port
	slog.Info("Webhook server starting", "address", addr,
		"member_key_policy", cfg.policy.MemberKey, "admin_policy", cfg.policy.Admin)
	if err := http.ListenAndServe(addr, middleware.RequestLogging(mux)); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
