package broker

import (
	"bytes"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// connectionHook logs network client connections.
type connectionHook struct {
	mqtt.HookBase
	log *slog.Logger
}

// ID returns the hook identifier
func (h *connectionHook) ID() string {
	return "connection-hook"
}

// Provides indicates which hook methods this hook provides
func (h *connectionHook) Provides(b byte) bool {
	//nolint:gocritic // argument order is intentional
	return bytes.Contains([]byte{
		mqtt.OnConnect,
		mqtt.OnDisconnect,
	}, []byte{b})
}

// OnConnect logs a client connection.
func (h *connectionHook) OnConnect(cl *mqtt.Client, _ packets.Packet) error {
	h.log.Debug("client connected", "clientId", cl.ID, "remote", cl.Net.Remote)
	return nil
}

// OnDisconnect logs a client disconnection.
func (h *connectionHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	if err != nil {
		h.log.Debug("client disconnected", "clientId", cl.ID, "expire", expire, "error", err)
		return
	}
	h.log.Debug("client disconnected", "clientId", cl.ID, "expire", expire)
}
