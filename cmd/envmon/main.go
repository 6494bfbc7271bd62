package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/afroash/envmon/internal/alert"
	"github.com/afroash/envmon/internal/bus"
	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/cloud"
	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/display"
	"github.com/afroash/envmon/internal/gpio"
	"github.com/afroash/envmon/internal/logging"
	"github.com/afroash/envmon/internal/metrics"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/monitor"
	"github.com/afroash/envmon/internal/predict"
	"github.com/afroash/envmon/internal/publish"
	"github.com/afroash/envmon/internal/sensor"
	"github.com/afroash/envmon/internal/server"
	"github.com/afroash/envmon/internal/storage"
	"github.com/afroash/envmon/internal/uart"
	"github.com/afroash/envmon/internal/uplink"
	"github.com/afroash/envmon/internal/wifi"
)

const version = "v0.3.0"

// nopOutput stands in for a GPIO line that could not be requested
type nopOutput struct{}

func (nopOutput) Set(bool) error { return nil }

func main() {
	configPath := flag.String("config", "configs/envmon.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("Failed to load env: %v", err)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging, "envmon")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", version).
		Str("device_id", cfg.Device.ID).
		Msg("Starting envmon gateway")
	logger.Debug().Msg(cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Gateway failed")
	}
	logger.Info().Msg("Gateway stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	clk := clock.System{}
	m := metrics.New()
	state := models.NewSystemState()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	i2cBus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return fmt.Errorf("open i2c bus %q: %w", cfg.I2C.Bus, err)
	}
	defer i2cBus.Close()
	b := bus.New(i2cBus)
	logger.Info().Str("bus", b.String()).Msg("I2C bus opened")

	// GPIO
	var led, buzzer alert.Output = nopOutput{}, nopOutput{}
	if out, err := gpio.OpenOutput(cfg.GPIO.Chip, cfg.GPIO.LED, "led"); err != nil {
		logger.Warn().Err(err).Msg("LED unavailable")
	} else {
		defer out.Close()
		led = out
	}
	if out, err := gpio.OpenOutput(cfg.GPIO.Chip, cfg.GPIO.Buzzer, "buzzer"); err != nil {
		logger.Warn().Err(err).Msg("Buzzer unavailable")
	} else {
		defer out.Close()
		buzzer = out
	}
	button := gpio.NewButton(&state.UI.ButtonPending, cfg.GPIO.Debounce, logger)
	if err := button.Open(cfg.GPIO.Chip, cfg.GPIO.Button); err != nil {
		if !cfg.Loop.AutoStart {
			return fmt.Errorf("start button required without auto_start: %w", err)
		}
		logger.Warn().Err(err).Msg("Button unavailable")
	}
	defer button.Close()

	renderer := openRenderer(cfg, b, clk, logger)

	// Sensors
	bmeCfg := sensor.DefaultBME680Config()
	bmeCfg.Addr = cfg.I2C.ClimateAddr
	bmeCfg.OffsetX10 = cfg.I2C.TemperatureOffset
	ensCfg := sensor.DefaultENS160Config()
	ensCfg.Addr = cfg.I2C.AirQualityAddr

	var particulate sensor.Driver
	if port, err := uart.Open(cfg.Serial.ParticulatePort, cfg.Serial.ParticulateBaud); err != nil {
		logger.Warn().Err(err).Msg("Particulate sensor port unavailable")
	} else {
		defer port.Close()
		particulate = sensor.NewPMS5003(port, clk, sensor.DefaultPMS5003Config(), logger)
	}

	suite := sensor.NewSuite(
		sensor.NewBME680(b, clk, bmeCfg, logger),
		sensor.NewENS160(b, clk, ensCfg, logger),
		particulate,
		logger,
	)
	suite.SetObserver(m)
	if err := suite.Init(&state.Health); err != nil {
		// halted until the process is stopped
		monitor.Halt(ctx, clk, led, renderer, "Climate sensor", logger)
		return nil
	}

	// Prediction
	fire, err := predict.LoadClassifier(cfg.Predict.FireModel, predict.DefaultFireRules())
	if err != nil {
		return err
	}
	zone, err := predict.LoadClassifier(cfg.Predict.ZoneModel, predict.DefaultZoneRules())
	if err != nil {
		return err
	}

	// Cloud sync over the WiFi modem
	var syncer monitor.Syncer
	if cfg.WiFi.Enabled {
		port, err := uart.Open(cfg.Serial.ModemPort, cfg.Serial.ModemBaud)
		if err != nil {
			logger.Warn().Err(err).Msg("WiFi modem unavailable, cloud sync disabled")
		} else {
			defer port.Close()
			modemCfg := wifi.DefaultConfig()
			modemCfg.Port = cfg.Cloud.Port
			s := cloud.NewSyncer(wifi.NewModem(port, clk, modemCfg, logger), clk, cloud.Config{
				Host:      cfg.Cloud.Host,
				DeviceID:  cfg.Device.ID,
				SSID:      cfg.WiFi.SSID,
				Password:  cfg.WiFi.Password,
				PostGap:   cfg.Cloud.PostGap,
				WallClock: cfg.Cloud.UseWallClock(),
				Reconnect: cfg.Cloud.Reconnect,
			}, &state.Connectivity, logger)
			s.SetObserver(m)
			go s.Run(ctx)
			syncer = s
		}
	}

	// Record sinks
	memStore := server.NewMemoryStore(1000)
	recorders := []monitor.Recorder{m, memStore}

	var sqliteStore *storage.SQLiteStore
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Storage.DBPath, logger)
		if err != nil {
			return err
		}
		defer sqliteStore.Close()

		dbWriter := storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Storage.BatchSize,
			FlushPeriod: cfg.Storage.FlushInterval,
		}, logger)
		dbWriter.SetDropCounter(m)
		defer dbWriter.Stop()
		recorders = append(recorders, dbWriter)

		cleaner, err := storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
			RetentionDays: cfg.Storage.RetentionDays,
			Schedule:      cfg.Storage.CleanupSchedule,
		}, logger)
		if err != nil {
			return err
		}
		defer cleaner.Stop()
	}

	if cfg.Uplink.Enabled {
		device := models.NewDeviceInfo(cfg.Device.ID, cfg.Device.Location, version)
		conn := uplink.NewConnection(uplink.ConnectionConfig{
			URL:                  cfg.Uplink.URL,
			AuthToken:            cfg.Uplink.AuthToken,
			ConnectTimeout:       cfg.Uplink.ConnectTimeout,
			ReconnectInterval:    cfg.Uplink.ReconnectInterval,
			MaxReconnectInterval: cfg.Uplink.MaxReconnectInterval,
			PingInterval:         cfg.Uplink.PingInterval,
			PongTimeout:          cfg.Uplink.PongTimeout,
			BufferSize:           cfg.Uplink.BufferSize,
		}, device, logger)
		conn.SetDropCounter(m)
		go conn.Run(ctx)
		recorders = append(recorders, conn)
	}

	if cfg.MQTT.Enabled {
		client, err := publish.DialMQTT(ctx, cfg.MQTT, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("MQTT disabled")
		} else {
			defer client.Disconnect(250)
			sink := publish.NewMQTTSink(client, publish.MQTTSinkConfig{Topic: cfg.MQTT.Topic, QoS: 1}, logger)
			sink.SetDropCounter(m)
			defer sink.Stop()
			recorders = append(recorders, sink)
		}
	}

	if cfg.Influx.Enabled {
		sink := publish.OpenInfluxSink(cfg.Influx, logger)
		sink.SetDropCounter(m)
		defer sink.Close()
		recorders = append(recorders, sink)
	}

	// Local API
	if cfg.API.Enabled {
		api := server.NewAPIHandler(memStore, logger)
		if sqliteStore != nil {
			api = server.NewAPIHandlerWithHistory(memStore, sqliteStore, logger)
		}
		router := server.NewRouter(server.Routes{Version: version, API: api, Metrics: m})
		srv := &http.Server{
			Addr:         cfg.API.Listen,
			Handler:      server.Wrap(router, logger.With().Str("component", "access").Logger()),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("API server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("API shutdown error")
			}
		}()
	}

	mon := monitor.New(monitor.Config{
		DeviceID:            cfg.Device.ID,
		TickInterval:        cfg.Loop.Tick,
		SampleInterval:      cfg.Loop.SampleInterval,
		SyncInterval:        cfg.Loop.SyncInterval,
		RotateInterval:      cfg.Loop.RotateInterval,
		CalibrationSamples:  cfg.Loop.CalibrationSamples,
		CalibrationInterval: cfg.Loop.CalibrationInterval,
		AutoStart:           cfg.Loop.AutoStart,
	}, clk, state, monitor.Deps{
		Sensors:   suite,
		Predictor: predict.NewPredictor(fire, zone),
		Alert:     alert.NewController(buzzer, clk.Now(), logger),
		Renderer:  renderer,
		LED:       led,
		Syncer:    syncer,
		Recorders: recorders,
	}, logger)

	err = mon.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openRenderer returns the LCD, or a log renderer when it is not configured or not present
func openRenderer(cfg *config.Config, b *bus.Bus, clk clock.Clock, logger zerolog.Logger) display.Renderer {
	if cfg.Display.Type == "lcd" {
		lcd := display.NewLCD(b, cfg.I2C.LCDAddr, clk, logger)
		err := lcd.Init()
		if err == nil {
			return lcd
		}
		logger.Warn().Err(err).Msg("LCD unavailable, rendering to log")
	}
	return display.NewLogRenderer(logger)
}
