package server

import (
	"log/slog"

	"github.com/signadot/adcoll/system/collectd/storage"
)

// Spec holds the runtime specification for the server.
// Config contains the serializable settings loaded from a file.
type Spec struct {
	Config  *Config
	Storage *storage.Storage
	Log     *slog.Logger
}
