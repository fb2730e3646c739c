// Package enrich resolves the display name and avatar of a room's
// counterparty when the room listing does not carry them.
package enrich

import (
	"context"

	"go.uber.org/zap"

	"github.com/marketdesk/chat-session/internal/chat"
	"github.com/marketdesk/chat-session/internal/metrics"
)

var (
	logoKeys     = []string{"logoURL", "logoUrl", "logo", "shopLogo", "imageUrl"}
	shopNameKeys = []string{"name", "shopName", "displayName"}
	avatarKeys   = []string{"avatarUrl", "avatarURL", "avatar", "profileImage", "imageUrl"}
	userNameKeys = []string{"fullName", "displayName", "name", "userName", "username"}
)

const (
	cacheKeyShop = "shop:"
	cacheKeyUser = "user:"
)

// Lookup fetches counterparty profiles from the backend.
type Lookup interface {
	GetShopDetail(ctx context.Context, shopID string) (chat.Raw, error)
	GetUserByID(ctx context.Context, userID string) (chat.Raw, error)
}

// Participant is the counterparty's display metadata.
type Participant struct {
	Name      string
	AvatarURL string
}

// Enricher resolves participants, consulting an optional cache first.
type Enricher struct {
	lookup Lookup
	cache  Cache
	logger *zap.SugaredLogger
}

// New creates an Enricher. cache may be nil.
func New(lookup Lookup, cache Cache, logger *zap.SugaredLogger) *Enricher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Enricher{lookup: lookup, cache: cache, logger: logger}
}

// Resolve returns the counterparty of room. Values present on the room are
// kept; missing ones come from the shop detail when the counterparty is a
// shop, or from the user profile otherwise. Lookup failures are logged and
// leave the room's values as they were.
func (e *Enricher) Resolve(ctx context.Context, room chat.ChatRoom) Participant {
	p := Participant{Name: room.CounterpartyName, AvatarURL: room.CounterpartyAvatarURL}
	if p.AvatarURL != "" && p.Name != "" {
		return p
	}

	switch {
	case room.CounterpartyShopID != "":
		found := e.fetch(ctx, cacheKeyShop+room.CounterpartyShopID, "get_shop_detail", func() (chat.Raw, error) {
			return e.lookup.GetShopDetail(ctx, room.CounterpartyShopID)
		}, shopNameKeys, logoKeys)
		p = merge(p, found)
	case room.CounterpartyUserID != "":
		found := e.fetch(ctx, cacheKeyUser+room.CounterpartyUserID, "get_user", func() (chat.Raw, error) {
			return e.lookup.GetUserByID(ctx, room.CounterpartyUserID)
		}, userNameKeys, avatarKeys)
		p = merge(p, found)
	}
	return p
}

func (e *Enricher) fetch(ctx context.Context, key, op string, get func() (chat.Raw, error), nameKeys, imageKeys []string) Participant {
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, key); err != nil {
			e.logger.Debugw("cache read failed", "key", key, "error", err)
		} else if ok {
			return cached
		}
	}

	raw, err := get()
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues(op).Inc()
		e.logger.Warnw("participant lookup failed", "op", op, "key", key, "error", err)
		return Participant{}
	}

	found := Participant{
		Name:      chat.ExtractString(raw, nameKeys...),
		AvatarURL: chat.ExtractString(raw, imageKeys...),
	}
	if e.cache != nil && (found.Name != "" || found.AvatarURL != "") {
		if err := e.cache.Set(ctx, key, found); err != nil {
			e.logger.Debugw("cache write failed", "key", key, "error", err)
		}
	}
	return found
}

func merge(p, found Participant) Participant {
	if p.Name == "" {
		p.Name = found.Name
	}
	if p.AvatarURL == "" {
		p.AvatarURL = found.AvatarURL
	}
	return p
}
