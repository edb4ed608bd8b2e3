package push

import (
	"context"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/rs/zerolog/log"
)

// Disabled accepts every message and sends nothing.
type Disabled struct{}

func (Disabled) Send(_ context.Context, msg core.PushMessage) error {
	log.Debug().Str("module", "push").Str("title", msg.Title).Msg("push disabled, message discarded")
	return nil
}
