package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/stromboli/pkg/agui"
	"github.com/go-go-golems/stromboli/pkg/llm"
	"github.com/go-go-golems/stromboli/pkg/runloop"
	"github.com/go-go-golems/stromboli/pkg/toolprovider"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// runEventsTopic is the single topic of each request's private pub/sub.
const runEventsTopic = "run-events"

// Server bridges prompt submissions to streamed AG-UI event responses. Each
// request gets fresh run identifiers, its own tool provider session and its
// own pub/sub bridge; nothing mutable is shared between concurrent runs.
type Server struct {
	addr            string
	engine          llm.Engine
	providerFactory toolprovider.Factory
	loopCfg         runloop.Config
}

type Option func(*Server)

func New(opts ...Option) (*Server, error) {
	s := &Server{
		addr:    ":8001",
		loopCfg: runloop.NewConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.engine == nil {
		return nil, errors.New("server needs an engine")
	}
	if s.providerFactory == nil {
		return nil, errors.New("server needs a tool provider factory")
	}
	return s, nil
}

func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

func WithEngine(engine llm.Engine) Option {
	return func(s *Server) { s.engine = engine }
}

func WithProviderFactory(factory toolprovider.Factory) Option {
	return func(s *Server) { s.providerFactory = factory }
}

func WithLoopConfig(cfg runloop.Config) Option {
	return func(s *Server) { s.loopCfg = cfg }
}

// Handler returns the full route set with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_data", s.handleGetData)
	mux.HandleFunc("/", s.handleRoot)
	return corsMiddleware(mux)
}

// ListenAndServe runs the HTTP server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		log.Info().Str("addr", s.addr).Msg("server: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return eg.Wait()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"message": "stromboli AG-UI bridge is running",
	})
}

// handleGetData accepts one prompt and answers with an unbounded SSE frame
// sequence that always ends in a terminal event.
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	prompt := r.URL.Query().Get("userprompt")
	if prompt == "" {
		http.Error(w, "missing userprompt", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	run := runloop.NewRun()
	logger := log.With().Str("run_id", run.RunID).Logger()
	logger.Debug().Str("prompt", prompt).Msg("server: starting run")

	// Per-request pub/sub bridging the run goroutine to this writer.
	// Blocking until ack keeps event order strict and forces each frame to
	// reach the client before the loop continues.
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})
	sub, err := pubsub.Subscribe(ctx, runEventsTopic)
	if err != nil {
		logger.Error().Err(err).Msg("server: failed to subscribe to run events")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	sink := agui.NewWatermillSink(pubsub, runEventsTopic)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer func() {
			if err := pubsub.Close(); err != nil {
				logger.Warn().Err(err).Msg("server: failed to close run pub/sub")
			}
		}()

		provider, err := s.providerFactory(gctx)
		if err != nil {
			// The stream has started: the terminal error frame is all we
			// can still offer the client.
			logger.Error().Err(err).Msg("server: tool provider connect failed")
			_ = sink.PublishEvent(agui.NewRunErrorEvent(errors.Wrap(err, "tool provider connect")))
			return nil
		}
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Warn().Err(err).Msg("server: failed to close tool provider session")
			}
		}()

		loop := runloop.New(
			runloop.WithEngine(s.engine),
			runloop.WithProvider(provider),
			runloop.WithSink(sink),
			runloop.WithConfig(s.loopCfg),
		)
		if err := loop.RunLoop(gctx, run, prompt); err != nil {
			logger.Error().Err(err).Msg("server: run ended with error")
		}
		return nil
	})

	encoder := agui.NewEventEncoder()
	for msg := range sub {
		frame := agui.EnsureFrameTerminator(encoder.EncodeJSON(msg.Payload))
		if _, err := io.WriteString(w, frame); err != nil {
			// Client is gone; acking unblocks the publisher, the request
			// context teardown stops the run.
			logger.Debug().Err(err).Msg("server: client disconnected mid-stream")
			msg.Ack()
			break
		}
		flusher.Flush()
		msg.Ack()
	}

	if err := eg.Wait(); err != nil {
		logger.Error().Err(err).Msg("server: run goroutine failed")
	}
	logger.Debug().Msg("server: run stream closed")
}

// corsMiddleware applies the permissive policy of the original deployment.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
