package sqlstore

import (
	"context"
	"time"

	"github.com/goliatone/go-claimbot/core"
	"github.com/uptrace/bun"
)

type unitTx struct {
	factory *RepositoryFactory
	tx      bun.Tx
}

func (u *unitTx) Users() core.UserWriter       { return txUsers{u} }
func (u *unitTx) Journeys() core.JourneyWriter { return txJourneys{u} }
func (u *unitTx) Outbox() core.OutboxAppender  { return txOutbox{u} }

type txUsers struct{ unit *unitTx }

func (w txUsers) Register(ctx context.Context, phone string, acceptedAt time.Time) (core.User, error) {
	return w.unit.factory.userStore.RegisterTx(ctx, w.unit.tx, phone, acceptedAt)
}

func (w txUsers) MarkVerified(ctx context.Context, phone string, verifiedAt time.Time) (core.User, error) {
	return w.unit.factory.userStore.MarkVerifiedTx(ctx, w.unit.tx, phone, verifiedAt)
}

type txJourneys struct{ unit *unitTx }

func (w txJourneys) Create(ctx context.Context, journey core.Journey) (core.Journey, error) {
	return w.unit.factory.journeyStore.CreateTx(ctx, w.unit.tx, journey)
}

func (w txJourneys) AttachTicket(ctx context.Context, journeyID string, ticketURL string) (core.Journey, error) {
	return w.unit.factory.journeyStore.AttachTicketTx(ctx, w.unit.tx, journeyID, ticketURL)
}

func (w txJourneys) Submit(ctx context.Context, journeyID string) (core.Journey, error) {
	return w.unit.factory.journeyStore.SubmitTx(ctx, w.unit.tx, journeyID)
}

type txOutbox struct{ unit *unitTx }

func (w txOutbox) Append(ctx context.Context, draft core.EventDraft) (core.OutboxEvent, error) {
	return w.unit.factory.outboxStore.AppendTx(ctx, w.unit.tx, draft)
}
