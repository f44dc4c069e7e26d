package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tryathome/orderflow/internal/platform/live"
	"github.com/tryathome/orderflow/internal/platform/requestctx"
	"github.com/tryathome/orderflow/internal/services"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveReadLimit  = 512
)

// LiveStatusHandler upgrades to a WebSocket and streams {orderId, status, timestamp} frames for one
// order. The current status is sent first; the stream ends after a terminal status.
type LiveStatusHandler struct {
	orders   services.OrderService
	broker   live.Broker
	upgrader websocket.Upgrader
}

// NewLiveStatusHandler constructs the handler. allowedOrigins empty accepts any origin.
func NewLiveStatusHandler(orders services.OrderService, broker live.Broker, allowedOrigins ...string) *LiveStatusHandler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin != "" {
			origins[origin] = struct{}{}
		}
	}
	return &LiveStatusHandler{
		orders: orders,
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (h *LiveStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, customerScope(principal))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	// The stream outlives request timeouts; it ends when the client goes away.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	sub, err := h.broker.Subscribe(streamCtx, order.ID)
	if err != nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer conn.Close()

	logger := requestctx.Logger(ctx).With(zap.String("orderId", order.ID))
	logger.Info("live.subscribed")
	defer logger.Info("live.unsubscribed")

	go func() {
		defer cancel()
		conn.SetReadLimit(liveReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	initial := services.StatusUpdate{OrderID: order.ID, Status: order.Status, Timestamp: order.UpdatedAt}
	if initial.Timestamp.IsZero() {
		initial.Timestamp = order.CreatedAt
	}
	if err := writeLiveFrame(conn, initial); err != nil || order.Status.IsTerminal() {
		closeLive(conn)
		return
	}

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-streamCtx.Done():
			return
		case update, ok := <-sub.Updates():
			if !ok {
				closeLive(conn)
				return
			}
			if err := writeLiveFrame(conn, update); err != nil {
				logger.Debug("live.write.failed", zap.Error(err))
				return
			}
			if update.Status.IsTerminal() {
				closeLive(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeLiveFrame(conn *websocket.Conn, update services.StatusUpdate) error {
	update.Timestamp = update.Timestamp.UTC()
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(update)
}

func closeLive(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
		time.Now().Add(liveWriteWait))
}
