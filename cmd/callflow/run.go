package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/asterisk-callflow/internal/ami"
	"github.com/sweeney/asterisk-callflow/internal/config"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/logging"
	"github.com/sweeney/asterisk-callflow/internal/publisher"
	"github.com/sweeney/asterisk-callflow/internal/reporter"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Correlate live AMI events and publish call events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logs, err := setupLogging(cfg, cmd)
			if err != nil {
				return err
			}
			defer logs.Close()
			log := logs.Component("run")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sink, closeSinks, err := buildSinks(cfg, logs)
			if err != nil {
				return err
			}
			defer closeSinks()

			serve(ctx, cfg, sink, logs)
			log.Info("shutdown complete")
			return nil
		},
	}
}

func setupLogging(cfg *config.Config, cmd *cobra.Command) (*logging.Logging, error) {
	return logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}, cmd.ErrOrStderr())
}

// buildSinks wires the configured consumers. Delivery failures are logged and
// dropped so that one unreachable consumer does not stall correlation.
func buildSinks(cfg *config.Config, logs *logging.Logging) (reporter.Sink, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sinks := reporter.Multi{reporter.NewLog(logs.Component("events"))}

	if cfg.MQTT.Enabled {
		log := logs.Component("mqtt")
		pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Log:      log,
		})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { pub.Close() })
		sinks = append(sinks, tolerant("mqtt", reporter.NewMQTT(pub, cfg.MQTT.TopicPrefix, 10*time.Second, log), log))
	}

	if cfg.Store.Driver != "" {
		log := logs.Component("store")
		store, err := reporter.OpenStore(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { store.Close() })
		sinks = append(sinks, tolerant("store", store, log))
		log.WithField("driver", cfg.Store.Driver).Info("event store ready")
	}

	return sinks, closeAll, nil
}

func tolerant(name string, sink reporter.Sink, log *logrus.Entry) reporter.Sink {
	return reporter.SinkFunc(func(evt reporter.Event) error {
		if err := sink.Handle(evt); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"sink":    name,
				"event":   evt.Kind,
				"call_id": evt.CallID,
			}).Warn("dropping call event")
		}
		return nil
	})
}

func engineFilter(cfg *config.Config) correlator.Filter {
	if len(cfg.Events) > 0 {
		return correlator.NewFilter(cfg.Events...)
	}
	return correlator.DefaultFilter()
}

// serve runs AMI sessions until ctx is cancelled, reconnecting after each
// failure.
func serve(ctx context.Context, cfg *config.Config, sink reporter.Sink, logs *logging.Logging) {
	log := logs.Component("run")
	for {
		err := runSession(ctx, cfg, sink, logs)
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warnf("AMI session ended, reconnecting in %s", cfg.AMI.Reconnect)
		select {
		case <-time.After(cfg.AMI.Reconnect):
		case <-ctx.Done():
			return
		}
	}
}

// runSession correlates one AMI connection. Each session starts with a fresh
// engine since calls in flight across a reconnect cannot be followed.
func runSession(ctx context.Context, cfg *config.Config, sink reporter.Sink, logs *logging.Logging) error {
	addr := cfg.AMI.Addr()
	logs.Component("run").WithField("addr", addr).Info("connecting to AMI")

	client, err := ami.Dial(ctx, addr, ami.Credentials{
		Username: cfg.AMI.Username,
		Secret:   cfg.AMI.Secret,
	}, logs.Component("ami"))
	if err != nil {
		return err
	}
	defer client.Close()

	engine := correlator.New(reporter.Adapt(sink),
		correlator.WithLogger(logs.Component("engine")),
		correlator.WithFilter(engineFilter(cfg)),
	)
	if err := engine.Run(ctx, client); err != nil {
		return fmt.Errorf("AMI session: %w", err)
	}
	return nil
}
