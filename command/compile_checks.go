package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RelayOutboxMessage]   = (*RelayOutboxCommand)(nil)
	_ gocmd.Commander[MarkPublishedMessage] = (*MarkPublishedCommand)(nil)
	_ gocmd.Commander[ResetSessionMessage]  = (*ResetSessionCommand)(nil)
)
