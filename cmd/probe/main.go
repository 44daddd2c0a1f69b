package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamgate/internal/platform/config"
	"streamgate/internal/platform/logger"
	"streamgate/internal/playback"
)

// logSink is the probe's stand-in for a rendering target.
type logSink struct{ name string }

func (s logSink) Name() string { return s.name }

// The probe runs one headless playback session against a gateway and
// logs every status transition, exercising the same recovery ladder a
// real player runs: in-place repair for media faults, timed
// reinitialization with a fresh token for everything else.
func main() {
	_ = config.Load()

	gatewayBase := config.GetEnv("GATEWAY_URL", "http://localhost:8080")
	alias := config.GetEnv("ALIAS", "")
	pollInterval := config.GetEnvDuration("POLL_INTERVAL", playback.DefaultPollInterval)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "text")

	log := logger.New(logLevel, logFormat)

	client := &http.Client{Timeout: 10 * time.Second}
	session := playback.New(logSink{name: "probe"}, playback.Options{
		Alias:       alias,
		GatewayBase: gatewayBase,
		Tokens:      &playback.HTTPTokenSource{Base: gatewayBase, Client: client},
		Engines:     playback.NewPollEngine(client, pollInterval),
		Log:         log,
		OnStatus: func(st playback.Status) {
			switch st.Kind {
			case playback.StatusHealthy:
				log.Info("stream healthy")
			case playback.StatusManualPlayRequired:
				log.Info("stream up, playback needs a user gesture")
			case playback.StatusDown:
				log.Warn("stream down", "reason", st.Reason)
			}
		},
	})

	log.Info("probe starting", "gateway", gatewayBase, "alias", alias)
	session.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	session.Destroy()
	log.Info("probe stopped")
}
