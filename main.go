package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"medical-center-server/internal/archive"
	"medical-center-server/internal/config"
	"medical-center-server/internal/documents"
	"medical-center-server/internal/events"
	"medical-center-server/internal/logging"
	"medical-center-server/internal/middleware"
	"medical-center-server/internal/models"
	"medical-center-server/internal/reports"
	"medical-center-server/internal/routes"
	"medical-center-server/internal/security"
	"medical-center-server/internal/workflow"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medical-center-server",
		Short: "Clinic visit workflow and prescription document API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine; the environment may already be set.
			_ = godotenv.Load()
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(createAdminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and opens the database.
func bootstrap() (*config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.IsDev())

	db, err := models.InitDB(models.DatabaseConfig{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	}, logger)
	if err != nil {
		return nil, logger, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, logger, db, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := bootstrap()
			if err != nil {
				return err
			}
			if err := models.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Msg("database schema is up to date")
			return nil
		},
	}
}

func createAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			name, _ := cmd.Flags().GetString("name")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters (flag --password or ADMIN_PASSWORD)")
			}

			_, logger, db, err := bootstrap()
			if err != nil {
				return err
			}
			if err := models.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			admin := models.User{Name: name, Username: username, Role: models.RoleAdmin, IsActive: true}
			if err := admin.SetPassword(password); err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			if err := db.Create(&admin).Error; err != nil {
				if models.IsUniqueViolation(err) {
					return fmt.Errorf("username %q is already taken", username)
				}
				return fmt.Errorf("create admin: %w", err)
			}
			logger.Info().Str("user_id", admin.ID).Str("username", username).Msg("admin created")
			return nil
		},
	}
	cmd.Flags().String("username", "admin", "Login name of the administrator")
	cmd.Flags().String("name", "Administrator", "Display name")
	cmd.Flags().String("password", "", "Password (defaults to ADMIN_PASSWORD)")
	return cmd
}

func runServer(ctx context.Context) error {
	cfg, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	keys, err := security.DeriveKeys(cfg.Documents.EncryptionKey)
	if err != nil {
		return err
	}
	blobs, err := security.NewBlobCipher(keys.Document)
	if err != nil {
		return err
	}
	fields, err := security.NewFieldCipher(keys.Field, keys.Index)
	if err != nil {
		return err
	}

	publisher, archiver, err := newIntegrations(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	reader := workflow.NewGormReader(db)
	docs := documents.NewService(documents.Dependencies{
		Reader: reader,
		Store:  documents.NewGormStore(db),
		Cipher: blobs,
		Normalizer: documents.NewNormalizer(
			cfg.Documents.ImageMaxWidth,
			cfg.Documents.ImageJPEGQuality,
			cfg.Documents.ImageMaxPixels,
			logger,
		),
		Directory: documents.NewGormDirectory(db, fields),
		Archiver:  archiver,
		Publisher: publisher,
		MaxBytes:  cfg.Documents.MaxUploadBytes,
		Logger:    logger,
	})

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(logger), middleware.Recovery(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, routes.Dependencies{
		DB:        db,
		Cfg:       cfg,
		Logger:    logger,
		Fields:    fields,
		Reader:    reader,
		Documents: docs,
		Archiver:  archiver,
		Reports:   reports.NewService(db, fields),
		Events:    publisher,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.Environment).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newIntegrations builds the event publisher and the document archive from
// configuration. AWS clients are created only when a backend needs them.
func newIntegrations(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Publisher, archive.Archiver, error) {
	needAWS := cfg.Events.Backend == "sqs" || cfg.Archive.Bucket != ""
	var awsCfg aws.Config
	if needAWS {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS SDK config: %w", err)
		}
	}

	var publisher events.Publisher
	switch cfg.Events.Backend {
	case "kafka":
		publisher = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	case "sqs":
		publisher = events.NewSQSPublisher(newSQSClient(awsCfg), cfg.Events.SQSQueueURL)
	default:
		publisher = events.NewLogPublisher(logger)
	}
	logger.Info().Str("backend", cfg.Events.Backend).Msg("event publisher ready")

	var archiver archive.Archiver = archive.Nop{}
	if cfg.Archive.Bucket != "" {
		archiver = archive.NewS3Archiver(newS3Client(awsCfg), cfg.Archive.Bucket, cfg.Archive.Prefix)
		logger.Info().Str("bucket", cfg.Archive.Bucket).Msg("document archive enabled")
	}
	return publisher, archiver, nil
}

func newSQSClient(awsCfg aws.Config) *sqs.Client {
	return sqs.NewFromConfig(awsCfg)
}

// newS3Client uses path-style addressing so S3-compatible stores such as
// MinIO work with the same configuration.
func newS3Client(awsCfg aws.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
}
