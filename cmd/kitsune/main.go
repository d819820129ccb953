package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/config"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/donation"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/http_api"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/hub"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/overlay"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/queue"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/repository"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/secret"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/tts"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/webhook"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "kitsune",
		Usage: "Kitsune is a bank-donation reconciliation and overlay service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.IntFlag{Name: "api-port", Aliases: []string{"a"}, Usage: "HTTP API port"},
			&cli.StringFlag{Name: "provider-api-url", Aliases: []string{"b"}, Usage: "Payment provider API URL"},
			&cli.StringFlag{Name: "payment-base-url", Aliases: []string{"j"}, Usage: "Payment page base URL"},
			&cli.StringFlag{Name: "legacy-webhook-secret", Aliases: []string{"s"}, Usage: "Shared secret for the legacy webhook endpoint"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
			&cli.BoolFlag{Name: "in-memory", Aliases: []string{"m"}, Usage: "Use the in-memory store instead of Postgres (development only)"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
		Commands: []*cli.Command{
			{
				Name:  "widget",
				Usage: "Run the terminal narration widget against a kitsune server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server-url", Aliases: []string{"S"}, Value: "http://localhost:4009", Usage: "Kitsune server base URL"},
					&cli.StringFlag{Name: "widget-token", Aliases: []string{"T"}, Required: true, Usage: "OBS widget capability token"},
					&cli.StringFlag{Name: "voice", Aliases: []string{"v"}, Usage: "Narration voice code"},
					&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
				},
				Action: func(c *cli.Context) error {
					return runWidget(c)
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("api-port") {
		cfg.APIPort = c.Int("api-port")
	}
	if c.IsSet("provider-api-url") {
		cfg.ProviderAPIURL = c.String("provider-api-url")
	}
	if c.IsSet("payment-base-url") {
		cfg.PaymentBaseURL = c.String("payment-base-url")
	}
	if c.IsSet("legacy-webhook-secret") {
		cfg.LegacyWebhookSecret = c.String("legacy-webhook-secret")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	// Initialize database
	var db models.Repository
	if c.Bool("in-memory") {
		if !cfg.Development {
			return fmt.Errorf("the in-memory store is development-only, pass --development")
		}
		memDB := repository.NewMemoryDB()
		seedDevStreamer(memDB, log)
		db = memDB
	} else {
		cipher, err := secret.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to initialize token cipher: %v", err)
		}
		db, err = repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, cipher, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %v", err)
		}
	}

	// Initialize the connection hub and the webhook reconciler
	broadcast := hub.NewHub(log)
	verifier := webhook.NewSignatureVerifier(cfg.ProviderAPIURL, log)
	reconciler := webhook.NewReconciler(db, broadcast, verifier, log)

	// Initialize API server
	apiServer := http_api.NewHTTPServer(http_api.Deps{
		Donations:    donation.NewService(db, cfg.PaymentBaseURL, log),
		Reconciler:   reconciler,
		Hub:          broadcast,
		Queue:        queue.NewManager(db, log),
		Repo:         db,
		LegacySecret: cfg.LegacyWebhookSecret,
	}, cfg.APIPort, log)

	go apiServer.Start()

	// Wait for a termination signal, then drain in-flight requests
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received signal, shutting down ", "signal ", sig.String())

	if err := apiServer.Shutdown(); err != nil {
		log.Error("Shutdown failed: ", err)
	}
	return nil
}

// runWidget runs the narration kiosk: it consumes the donation stream, reads
// each donation aloud and promotes announced clips to pending. Clip playback
// itself stays with the browser overlay.
func runWidget(c *cli.Context) error {
	log, err := logger.NewLogger(c.Bool("development"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	voice := cfg.TTSVoice
	if c.IsSet("voice") {
		voice = c.String("voice")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := overlay.NewAPIClient(c.String("server-url"), c.String("widget-token"), log)
	status, err := api.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach the server: %v", err)
	}

	runner := overlay.NewRunner(overlay.Config{
		Synthesizer:     tts.NewGoogleSynthesizer(voice, log),
		Voice:           voice,
		Audio:           overlay.NewOtoPlayer(),
		Display:         overlay.NewConsoleDisplay(log),
		Queue:           api,
		PausedFunc:      api.Paused,
		ShowImmediately: status.ShowImmediately,
		MaxClipDuration: time.Duration(status.MaxClipMinutes) * time.Minute,
	}, log)

	stream := overlay.NewStreamClient(api.StreamURL(), log)
	go stream.Run(ctx)

	runner.Start(ctx)
	log.Info("Widget connected ", "server ", c.String("server-url"))
	runner.ConsumeStream(stream.Events)
	runner.Wait()
	return nil
}

// seedDevStreamer creates one ready-to-use streamer so the donation page and
// the widget work out of the box against the in-memory store.
func seedDevStreamer(db models.Repository, log *logger.Logger) {
	streamer := &models.StreamerConfig{
		StreamerID:     uuid.NewString(),
		Slug:           "dev",
		JarID:          "dev-jar",
		JarTitle:       "Development jar",
		WebhookID:      uuid.NewString(),
		OBSWidgetToken: uuid.NewString(),
		Volume:         100,
		ShowClipTitle:  true,
		ShowDonorName:  true,
		MaxClipMinutes: 5,
		CreatedAt:      time.Now().Unix(),
	}
	if err := db.SaveStreamer(streamer); err != nil {
		log.Fatal("Failed to seed development streamer: ", err)
	}

	log.Info("Seeded development streamer ",
		"slug ", streamer.Slug,
		" webhook_id ", streamer.WebhookID,
		" widget_token ", streamer.OBSWidgetToken)
}
