package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lrg1763/BarterswapWeb/internal/cache"
	"github.com/lrg1763/BarterswapWeb/internal/identity"
	"github.com/lrg1763/BarterswapWeb/internal/metrics"
	"github.com/lrg1763/BarterswapWeb/internal/presence"
	"github.com/lrg1763/BarterswapWeb/internal/router"
	"github.com/lrg1763/BarterswapWeb/internal/server/middleware"
	"github.com/lrg1763/BarterswapWeb/pkg/config"
	"github.com/lrg1763/BarterswapWeb/pkg/state"
	"github.com/lrg1763/BarterswapWeb/pkg/transport"
)

// Deps carries the constructed collaborators into the App.
type Deps struct {
	Registry    state.Registry
	EventRouter *router.EventRouter
	Presence    *presence.Tracker
	Verifier    *identity.Verifier
	Names       *cache.Names
	Metrics     *metrics.Metrics
	PromReg     *prometheus.Registry
}

type App struct {
	logger      *slog.Logger
	registry    state.Registry
	eventRouter *router.EventRouter
	presence    *presence.Tracker
	names       *cache.Names
	metrics     *metrics.Metrics
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, deps Deps) *App {
	app := &App{
		logger:      logger,
		registry:    deps.Registry,
		eventRouter: deps.EventRouter,
		presence:    deps.Presence,
		names:       deps.Names,
		metrics:     deps.Metrics,
		config:      cfg,
		ctx:         rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)

	connCounter := middleware.UserConnectionCounter(deps.Registry.GetUserConnectionCount)
	// Cycler closes the oldest open connection to make room for a new device.
	connCycler := func(userID int64) {
		oldest, found := deps.Registry.FindOldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", slog.Int64("userID", userID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, deps.Verifier),
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)

	if cfg.Metrics.Enabled && deps.PromReg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.PromReg, promhttp.HandlerOpts{}))
	}

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.Int64("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			SendBuffer:  a.config.Transport.SendBuffer,
		},
		a.logger,
	)

	stateConn, err := a.registry.RegisterConnection(conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}

	// Username is resolved once here; presence and chat events reuse it as
	// a fallback when the cache and store are both unavailable.
	username, err := a.names.Resolve(r.Context(), reqMeta.UserID)
	if err != nil {
		connLogger.Warn("Username resolution failed during handshake", slog.Any("error", err))
	}

	// Associating joins the user's personal room synchronously, so room
	// membership is already consistent when the presence write suspends.
	if _, err := a.registry.AssociateUser(stateConn.ID, reqMeta.UserID, username); err != nil {
		connLogger.Error("Failed to associate user with connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	sess := newSession(connLogger, stateConn, a.registry, a.presence, a.metrics, a.config.Presence.HeartbeatInterval)
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, closeErr error) {
		sess.teardown(closeErr)
	})

	sess.activate(r.Context())
	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Close all active WebSocket connections, including any still in the
	// handshake window before user association.
	a.logger.Info("Closing all active connections...")
	conns, err := a.registry.GetAllConnections()
	if err != nil {
		a.logger.Error(err.Error())
		return err
	}
	for _, conn := range conns {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
