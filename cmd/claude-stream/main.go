package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/namikmesic/claude-client/internal/aggregate"
	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/namikmesic/claude-client/internal/bedrock"
	"github.com/namikmesic/claude-client/internal/client"
	"github.com/namikmesic/claude-client/internal/config"
	"github.com/namikmesic/claude-client/internal/jetstream"
	"github.com/namikmesic/claude-client/internal/recorder"
	"github.com/namikmesic/claude-client/internal/storage"
	"github.com/namikmesic/claude-client/internal/stream"
	"github.com/namikmesic/claude-client/internal/vertex"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// How long to wait for the mirror consumer to record the stream on exit.
const recordWait = 5 * time.Second

func main() {
	// A missing .env is fine; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	prompt, err := readPrompt(os.Args[1:], os.Stdin)
	if err != nil {
		log.Fatal().Err(err).Msg("no prompt")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, prompt, os.Stdout); err != nil {
		log.Error().Err(err).Msg("request failed")
		stop()
		os.Exit(1)
	}
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", errors.New("pass a prompt as arguments or on stdin")
	}
	return prompt, nil
}

func run(ctx context.Context, cfg *config.Config, prompt string, out io.Writer) error {
	var opts []client.Option
	var rec *recorder.Recorder

	if cfg.Storage.DatabaseURL != "" {
		pool, err := storage.NewPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		if err := storage.RunMigrations(ctx, pool); err != nil {
			return err
		}

		writer := storage.NewBatchWriter(pool, cfg.Storage.WriterBufferSize, cfg.Storage.WriterBatchSize, cfg.Storage.WriterFlushMs)
		defer writer.Shutdown()
		rec = recorder.New(writer, cfg.Provider)
	}

	mirrored := false
	if cfg.Storage.NATSStoreDir != "" {
		srv, err := jetstream.Start(cfg.Storage.NATSStoreDir)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		defer srv.Close()
		opts = append(opts, client.WithMirror(jetstream.Factory(srv.JetStream())))
		mirrored = true

		if rec != nil {
			consumerCtx, cancel := context.WithCancel(context.Background())
			consumerDone := make(chan struct{})
			go func() {
				defer close(consumerDone)
				if err := rec.StartConsumer(consumerCtx, srv.JetStream()); err != nil {
					log.Error().Err(err).Msg("mirror consumer stopped")
				}
			}()
			defer func() {
				cancel()
				<-consumerDone
			}()
		}
	}
	if rec != nil && !mirrored {
		opts = append(opts, client.WithObserver(rec.Observe))
	}

	c, err := newClient(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	requestID := uuid.New()
	started := time.Now()
	req := &anthropic.MessageRequest{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Messages:  []anthropic.InputMessage{anthropic.NewUserMessage(prompt)},
	}

	s, err := c.StreamMessage(client.ContextWithRequestID(ctx, requestID), req)
	if err != nil {
		if rec != nil {
			rec.RecordMessage(requestID, started, nil, err)
		}
		return err
	}

	agg, streamErr := printStream(s, out)
	if rec != nil {
		if mirrored {
			waitRecorded(rec, requestID)
		} else {
			rec.RecordStream(requestID, started, agg, streamErr)
		}
	}
	if streamErr != nil {
		return streamErr
	}

	fmt.Fprintln(out)
	var usage anthropic.Usage
	if u := agg.Usage(); u != nil {
		usage = *u
	}
	log.Info().
		Str("request_id", requestID.String()).
		Str("provider", c.Provider()).
		Str("model", agg.Model()).
		Str("stop_reason", deref(agg.StopReason())).
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Dur("duration", time.Since(started)).
		Msg("message complete")
	return nil
}

// printStream writes text deltas as they arrive and folds every event.
func printStream(s *stream.Stream, out io.Writer) (*aggregate.Aggregator, error) {
	agg := aggregate.New()
	for ev, err := range s.Events() {
		if err != nil {
			return agg, err
		}
		if d, ok := ev.(stream.ContentBlockDelta); ok {
			if text, ok := d.Delta.(stream.TextDelta); ok {
				fmt.Fprint(out, text.Text)
			}
		}
		if err := agg.Add(ev); err != nil {
			return agg, err
		}
	}
	return agg, agg.Finish()
}

func waitRecorded(rec *recorder.Recorder, requestID uuid.UUID) {
	timeout := time.After(recordWait)
	for {
		select {
		case id := <-rec.Recorded():
			if id == requestID {
				return
			}
		case <-timeout:
			log.Warn().Str("request_id", requestID.String()).Msg("stream not recorded yet, it stays in the mirror")
			return
		}
	}
}

func newClient(ctx context.Context, cfg *config.Config, opts ...client.Option) (*client.Client, error) {
	switch cfg.Provider {
	case config.ProviderBedrock:
		auth, err := bedrockAuth(ctx, cfg.Bedrock)
		if err != nil {
			return nil, err
		}
		return bedrock.NewClient(auth, opts...), nil

	case config.ProviderVertex:
		tokens, err := vertex.DefaultTokenSource(ctx, cfg.Vertex.Audience)
		if err != nil {
			return nil, err
		}
		creds, err := vertex.NewCredentials(cfg.Vertex.Region, cfg.Vertex.ProjectID, tokens)
		if err != nil {
			return nil, err
		}
		return vertex.NewClient(creds, opts...), nil

	default:
		base := []client.Option{
			client.WithBaseURL(cfg.Anthropic.BaseURL),
			client.WithAPIKey(cfg.Anthropic.APIKey),
			client.WithAuthToken(cfg.Anthropic.AuthToken),
		}
		return client.New(append(base, opts...)...), nil
	}
}

func bedrockAuth(ctx context.Context, cfg config.Bedrock) (bedrock.Authenticator, error) {
	if cfg.BearerToken != "" {
		auth, err := bedrock.NewAPIKeyCredentials(cfg.BearerToken, cfg.Region)
		if err != nil {
			return nil, err
		}
		return auth, nil
	}

	var (
		auth *bedrock.SigV4Auth
		err  error
	)
	if cfg.AccessKeyID != "" {
		auth, err = bedrock.NewSessionCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken, cfg.Region)
	} else {
		auth, err = bedrock.LoadDefaultCredentials(ctx, cfg.Region)
	}
	if err != nil {
		return nil, err
	}
	return auth, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
