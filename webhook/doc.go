// Package webhook is the inbound surface of the bot.
//
// Each delivery runs a fixed sequence:
// verify -> validate -> claim -> rate limit -> lease -> load -> transition ->
// commit -> persist session -> mark processed -> render.
// A message id is claimed atomically before any side effect, so a
// redelivery either replays the stored reply or, while the first delivery is
// still in flight, receives an empty envelope.
package webhook
