package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"triplog/tracker-server/internal/admission"
	"triplog/tracker-server/internal/config"
	"triplog/tracker-server/internal/ingest"
	"triplog/tracker-server/internal/model"
	"triplog/tracker-server/internal/mqttbroker"
	"triplog/tracker-server/internal/mqttclient"
	"triplog/tracker-server/internal/phantom"
	"triplog/tracker-server/internal/scan"
	"triplog/tracker-server/internal/session"
	"triplog/tracker-server/internal/store"
)

// App wires together the tracker services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time

	store   *store.Store
	ingest  *ingest.Service
	scanner *scan.Scanner

	broker *mqttbroker.Broker
	client *mqttclient.Client
	// publish sends admitted points back out; nil until a transport is up.
	publish func(topic string, payload []byte) error

	mdns *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger, now: time.Now}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	a.attach(db)

	transportErrCh, err := a.startTransport()
	if err != nil {
		return err
	}
	defer a.stopTransport()

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.advertisedPort()); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	httpErrCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")
			return nil
		case err := <-httpErrCh:
			return err
		case err, ok := <-transportErrCh:
			if !ok {
				transportErrCh = nil
				continue
			}
			if err != nil {
				_ = httpServer.Shutdown(context.Background())
				return err
			}
		}
	}
}

// attach builds the pipeline services on top of an initialised store.
func (a *App) attach(db *store.Store) {
	p := a.cfg.Pipeline
	a.store = db
	a.ingest = ingest.NewService(admission.NewFilter(p.Admission), db, a.logger)
	a.scanner = scan.NewScanner(db, db, phantom.NewCleaner(p.Phantom), session.NewSegmenter(p.Session))
}

// startTransport subscribes to fixes on the external broker when one is
// configured and otherwise runs the embedded broker. The returned channel is
// nil for the external client, which reconnects on its own.
func (a *App) startTransport() (<-chan error, error) {
	if a.cfg.MQTTBrokerURL != "" {
		client, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL: a.cfg.MQTTBrokerURL,
			Filter:    a.cfg.MQTTFixTopic,
		}, a.handleFixMessage, a.logger)
		if err != nil {
			return nil, err
		}
		a.client = client
		a.publish = client.Publish
		return nil, nil
	}

	broker := mqttbroker.New(a.logger)
	broker.SetPublishHandler(func(ctx context.Context, msg mqttbroker.PublishMessage) {
		a.handleFixMessage(ctx, msg.Topic, msg.Payload)
	})
	errCh, err := broker.Start(a.cfg.MQTTBindAddress)
	if err != nil {
		return nil, err
	}
	a.broker = broker
	a.publish = broker.Publish
	return errCh, nil
}

func (a *App) stopTransport() {
	if a.client != nil {
		a.client.Close()
		a.logger.Info("mqtt client disconnected")
	}
	if a.broker != nil {
		if err := a.broker.Stop(); err != nil {
			a.logger.Error("mqtt broker stop", "error", err)
			return
		}
		a.logger.Info("mqtt broker stopped")
	}
}

func (a *App) transportReady() bool {
	return a.broker != nil || a.client != nil
}

// advertisedPort is the embedded broker port, or the HTTP port when fixes
// come from an external broker.
func (a *App) advertisedPort() int {
	if a.broker != nil {
		if addr, ok := a.broker.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return a.cfg.HTTPPort
}

// handleFixMessage ingests a fix payload received on trackers/<device>/fixes.
// Fixes without a device id are attributed to the topic's device.
func (a *App) handleFixMessage(ctx context.Context, topic string, payload []byte) {
	if !mqttbroker.Match(a.cfg.MQTTFixTopic, topic) {
		return
	}
	deviceID := deviceFromTopic(topic)

	fixes, err := model.DecodeFixes(payload)
	if err != nil {
		a.logger.Warn("mqtt payload decode failed", "topic", topic, "error", err)
		a.recordIngestionError(ctx, deviceID, payload, err)
		return
	}
	for i := range fixes {
		if fixes[i].DeviceID == "" {
			fixes[i].DeviceID = deviceID
		}
	}

	batch := a.ingestFixes(ctx, fixes)
	for _, res := range batch.Results {
		if res.Error != "" {
			a.recordIngestionError(ctx, res.DeviceID, payload, errors.New(res.Error))
		}
	}
	a.logger.Info("ingested fixes", "topic", topic, "batch", batch.BatchID,
		"stored", batch.Stored, "rejected", batch.Rejected, "failed", batch.Failed)
}

// ingestFixes runs fixes through admission and re-publishes every stored point.
func (a *App) ingestFixes(ctx context.Context, fixes []model.Fix) ingest.BatchResult {
	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout())
	defer cancel()

	batch := a.ingest.ProcessBatch(storeCtx, fixes)
	for _, res := range batch.Results {
		if res.Admit && res.Record != nil {
			a.publishPoint(*res.Record)
		}
	}
	return batch
}

func (a *App) publishPoint(p model.StoredPoint) {
	if a.publish == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		a.logger.Error("encode point", "device", p.DeviceID, "error", err)
		return
	}
	topic := fmt.Sprintf("trackers/%s/points", p.DeviceID)
	if err := a.publish(topic, data); err != nil {
		a.logger.Warn("publish point failed", "topic", topic, "error", err)
	}
}

func (a *App) recordIngestionError(ctx context.Context, deviceID string, payload []byte, cause error) {
	if a.store == nil || cause == nil {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout())
	defer cancel()

	if err := a.store.InsertIngestionError(storeCtx, model.IngestionError{
		DeviceID: deviceID,
		Payload:  string(payload),
		Error:    cause.Error(),
	}); err != nil {
		a.logger.Error("failed to record ingestion error", "device", deviceID, "error", err)
	}
}

// deviceFromTopic returns the second topic level, e.g. "vehicle_01" for
// trackers/vehicle_01/fixes.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
