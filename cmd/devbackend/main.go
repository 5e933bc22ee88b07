package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"foloup/candidate/internal/devserver"
)

const helpText = `devbackend - Local interview backend for the interview client

Usage:
  devbackend

Serves the interview REST API and the realtime socket at /realtime.
Questions come from a YAML script, or from OpenAI when OPENAI_API_KEY is set.

Environment Variables (optional):
  DEVBACKEND_ADDR              Listen address (default: :8080)
  DEVBACKEND_QUESTIONS         YAML question script
  DEVBACKEND_DURATION_MINUTES  Interview length (default: from script, else 30)
  OPENAI_API_KEY               Generate questions, speech and transcripts
  OPENAI_MODEL                 Chat model for question generation
  OPENAI_BASE_URL              OpenAI-compatible endpoint

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	_ = godotenv.Load()

	script := devserver.DefaultScript()
	if path := os.Getenv("DEVBACKEND_QUESTIONS"); path != "" {
		s, err := devserver.LoadScript(path)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		script = s
	}

	opts := devserver.Options{
		InterviewID:     script.InterviewID,
		DurationMinutes: script.DurationMinutes,
		Questions:       script,
		Speech:          devserver.ScriptSpeech{Script: script},
	}
	if v := os.Getenv("DEVBACKEND_DURATION_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("[main] invalid DEVBACKEND_DURATION_MINUTES %q", v)
		}
		opts.DurationMinutes = n
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		ai := devserver.NewOpenAI(devserver.OpenAIConfig{
			APIKey:  key,
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   os.Getenv("OPENAI_MODEL"),
			Role:    script.Role,
			Total:   len(script.Questions),
		})
		opts.Questions = ai
		opts.Speech = ai
		opts.Transcriber = ai
		log.Printf("[main] questions, speech and transcripts from OpenAI")
	}

	addr := os.Getenv("DEVBACKEND_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           devserver.New(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[main] shutdown: %v", err)
		}
	}()

	log.Printf("[main] serving interview %s on %s", opts.InterviewID, addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] done")
}
