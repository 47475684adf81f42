package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentmailproxy/mailproxy/internal/config"
	"github.com/agentmailproxy/mailproxy/internal/credential"
	"github.com/agentmailproxy/mailproxy/internal/crypto"
	"github.com/agentmailproxy/mailproxy/internal/db"
	"github.com/agentmailproxy/mailproxy/internal/handler"
	"github.com/agentmailproxy/mailproxy/internal/httpapi"
	"github.com/agentmailproxy/mailproxy/internal/imap"
	"github.com/agentmailproxy/mailproxy/internal/keepalive"
	"github.com/agentmailproxy/mailproxy/internal/logging"
	"github.com/agentmailproxy/mailproxy/internal/models"
	"github.com/agentmailproxy/mailproxy/internal/session"
	"github.com/agentmailproxy/mailproxy/internal/smtp"
	"github.com/agentmailproxy/mailproxy/internal/transform"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logging.New("info").Fatalf("failed to load config: %v", err)
	}

	log := logging.New(cfg.LogLevel)
	ctx := context.Background()

	dbPool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.CloseConnection(dbPool)

	if err := db.RunMigrations(ctx, dbPool, "migrations"); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("failed to build encryptor: %v", err)
	}

	store, err := session.New(cfg.StoreURL)
	if err != nil {
		log.Fatalf("failed to build session store: %v", err)
	}
	defer store.Close()

	instanceID := instanceID()

	resolver := credential.New(dbPool, encryptor, logging.Component(log, "credential"))

	imapPool := imap.New(imap.Config{
		MaxLiveHandles:     cfg.MaxLiveHandlesPerProtocol,
		IdleProbeThreshold: time.Duration(cfg.IdleProbeThresholdSeconds) * time.Second,
		SessionTTL:         time.Duration(cfg.SessionTTLSeconds) * time.Second,
		UseTLS:             true,
		InstanceID:         instanceID,
	}, resolver, store, logging.Component(log, "imap_pool"))
	defer imapPool.Close()

	smtpPool := smtp.New(smtp.Config{
		MaxLiveHandles:     cfg.MaxLiveHandlesPerProtocol,
		IdleProbeThreshold: time.Duration(cfg.IdleProbeThresholdSeconds) * time.Second,
		SessionTTL:         time.Duration(cfg.SessionTTLSeconds) * time.Second,
		UseTLS:             true,
		InstanceID:         instanceID,
	}, resolver, store, logging.Component(log, "smtp_pool"))
	defer smtpPool.Close()

	worker := keepalive.New(keepalive.Config{
		Interval: time.Duration(cfg.KeepaliveIntervalSecs) * time.Second,
	}, store, resolver, map[models.Protocol]keepalive.Pool{
		models.ProtocolIMAP: imapPool,
		models.ProtocolSMTP: smtpPool,
	}, logging.Component(log, "keepalive"))

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.Run(workerCtx)

	h := handler.New(imapPool, smtpPool, transform.Options{
		BodyCharLimit:        cfg.BodyCharLimit,
		AttachmentCharLimit:  cfg.AttachmentCharLimit,
		TrackingHostPatterns: cfg.TrackingHostPatterns,
	})

	router := httpapi.NewRouter(h, httpapi.AllowAny, logging.Component(log, "httpapi"))

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("bind_addr", cfg.BindAddr).Info("mailproxy listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	waitForShutdown(log, srv, stopWorker)
}

func waitForShutdown(log *logrus.Logger, srv *http.Server, stopWorker context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "mailproxy-instance"
}
