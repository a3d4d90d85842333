package api

import (
	"time"

	"lnprobe/internal/config"
)

// Timeouts are the http.Server limits.
type Timeouts struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
}

func TimeoutsFromConfig(cfg config.Config) Timeouts {
	return Timeouts{
		ReadHeader: 2 * time.Second,
		Read:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		Write:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		Idle:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}
}
