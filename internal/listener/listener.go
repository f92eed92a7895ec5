package listener

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"campaign-progress-engine/internal/storage"
)

const defaultDebounce = 200 * time.Millisecond

type Invalidator interface {
	Invalidate(ctx context.Context, campaignID string, usuarioID *int64) (int64, error)
}

// Handler reacts to campaign change notifications. The payload is the id of
// the changed campaign; an empty payload only reloads the catalog.
type Handler struct {
	reload      func(ctx context.Context) error
	invalidator Invalidator
	debounce    time.Duration
	now         func() time.Time

	mu         sync.Mutex
	lastReload time.Time
}

func NewHandler(reload func(ctx context.Context) error, inv Invalidator) *Handler {
	return &Handler{reload: reload, invalidator: inv, debounce: defaultDebounce, now: time.Now}
}

// Handle drops the campaign's snapshots and reloads the catalog. Reloads
// inside the debounce window are skipped; invalidations never are.
func (h *Handler) Handle(ctx context.Context, payload string) {
	if id := strings.TrimSpace(payload); id != "" && h.invalidator != nil {
		n, err := h.invalidator.Invalidate(ctx, id, nil)
		if err != nil {
			log.Error().Err(err).Str("campaign_id", id).Msg("invalidate on change")
		} else {
			log.Info().Str("campaign_id", id).Int64("deleted", n).Msg("campaign changed; snapshots invalidated")
		}
	}

	h.mu.Lock()
	now := h.now()
	if !h.lastReload.IsZero() && now.Sub(h.lastReload) < h.debounce {
		h.mu.Unlock()
		return // burst of notifications
	}
	h.lastReload = now
	h.mu.Unlock()

	if err := h.reload(ctx); err != nil {
		log.Error().Err(err).Msg("refresh campaign catalog")
	}
}

// ListenAndRefresh holds a dedicated connection on LISTEN channel and feeds
// every notification to h, reconnecting with jittered backoff.
func ListenAndRefresh(ctx context.Context, st *storage.Store, h *Handler, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	for ctx.Err() == nil {
		err := listen(ctx, st, h, channel)
		if ctx.Err() != nil {
			break
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("listener disconnected")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
	log.Info().Msg("listener stopped")
}

func listen(ctx context.Context, st *storage.Store, h *Handler, channel string) error {
	conn, err := st.PgxPool().Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for campaign changes")

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		h.Handle(ctx, ntf.Payload)
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
