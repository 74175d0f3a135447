package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/babelroom/backend/internal/config"
	"github.com/babelroom/backend/internal/handler"
	"github.com/babelroom/backend/internal/handler/relay"
	"github.com/babelroom/backend/internal/pipeline"
	"github.com/babelroom/backend/internal/registry"
	"github.com/babelroom/backend/internal/service/audio"
	"github.com/babelroom/backend/internal/service/speech"
	"github.com/babelroom/backend/internal/service/translate"
	"github.com/babelroom/backend/internal/verify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// External collaborators are required: a relay that cannot transcribe
	// or translate is not worth starting.
	if !cfg.Speech.Enabled() {
		log.Fatal("speech provider credentials missing (SPEECH_API_KEY)")
	}
	if !cfg.Translate.Enabled() {
		log.Fatal("translation credentials missing (ARK_MODEL plus ARK_API_KEY or AK/SK)")
	}

	sweepStaleArtifacts(cfg.Relay.TempDir)

	reg := registry.New(cfg.Relay.RoomMaxMembers)
	reg.StartSweeping(ctx, time.Minute, 10*time.Minute)

	verifySvc := verify.NewService(cfg.Verify.InitialSharedKey, cfg.Verify.SharedSecret, cfg.Verify.WebSecret)
	verifySvc.Nonces().StartSweeping(ctx, time.Hour)

	speechSvc := speech.NewService(cfg.Speech)
	log.Println("speech service initialized")

	translateSvc, err := translate.NewService(ctx, cfg.Translate)
	if err != nil {
		log.Fatalf("failed to initialize translation service: %v", err)
	}
	log.Println("translation service initialized")

	transcoder := audio.NewTranscoder(cfg.Relay.SampleRate)

	relayHandler := relay.New(reg, verifySvc, cfg.Verify.AllowedOrigins)
	pipe := pipeline.New(reg, transcoder, speechSvc, translateSvc, speechSvc, relayHandler, pipeline.Options{
		MaxUploadBytes: cfg.Relay.MaxUploadBytes,
		MaxDuration:    cfg.Relay.MaxDurationSeconds,
		TempDir:        cfg.Relay.TempDir,
	})
	relayHandler.AttachPipeline(pipe)

	router := handler.NewRouter(verifySvc, relayHandler, cfg.Verify)

	startServer(ctx, cfg.Server, router)
}

// sweepStaleArtifacts drops utterance temp files a previous process left
// behind.
func sweepStaleArtifacts(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "utterance-*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			log.Printf("warning: failed to remove stale artifact %s: %v", path, err)
		}
	}
	if len(matches) > 0 {
		log.Printf("removed %d stale utterance artifacts", len(matches))
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("relay backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
