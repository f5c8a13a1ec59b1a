// Package channels is the registry of broadcast channels the engine relays.
package channels

import (
	"context"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Repository defines the channel storage.
type Repository interface {
	ListActiveChannels(ctx context.Context) ([]domain.Channel, error)
	ListChannels(ctx context.Context) ([]domain.Channel, error)
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
	// AdvanceCursor stores cursor only when it is greater than the stored one.
	AdvanceCursor(ctx context.Context, id string, cursor int64) (bool, error)
	// UpsertDiscovered inserts an inactive free channel or refreshes its metadata.
	UpsertDiscovered(ctx context.Context, meta transport.ChannelMeta) (created bool, err error)

	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetChannelForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Channel, error)
	SetActiveTx(ctx context.Context, tx pgx.Tx, id string, active bool) (*domain.Channel, error)
	SetTermsTx(ctx context.Context, tx pgx.Tx, id string, tier domain.SubscriptionType, price *decimal.Decimal) (*domain.Channel, error)
}
