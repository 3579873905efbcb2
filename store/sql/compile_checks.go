package sqlstore

import "github.com/goliatone/go-claimbot/core"

var (
	_ core.UnitOfWork       = (*RepositoryFactory)(nil)
	_ core.UserDirectory    = (*RepositoryFactory)(nil)
	_ core.JourneyDirectory = (*RepositoryFactory)(nil)
	_ core.OutboxAppender   = (*OutboxStore)(nil)
	_ core.OutboxReader     = (*OutboxStore)(nil)
	_ core.Tx               = (*unitTx)(nil)
)
