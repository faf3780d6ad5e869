package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/84hero/chain-scanner/pkg/config"
	"github.com/84hero/chain-scanner/pkg/contract"
	"github.com/84hero/chain-scanner/pkg/metrics"
	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/84hero/chain-scanner/pkg/protocol/bitcoin"
	"github.com/84hero/chain-scanner/pkg/protocol/ethereum"
	"github.com/84hero/chain-scanner/pkg/rpc"
	"github.com/84hero/chain-scanner/pkg/scanner"
	"github.com/84hero/chain-scanner/pkg/sink"
	"github.com/84hero/chain-scanner/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// --- Configuration Structs ---

type AppConfig struct {
	Outputs OutputsConfig `mapstructure:"outputs"`
}

type OutputsConfig struct {
	Webhook  WebhookOutputConfig  `mapstructure:"webhook"`
	File     FileOutputConfig     `mapstructure:"file"`
	Console  ConsoleOutputConfig  `mapstructure:"console"`
	Postgres PostgresOutputConfig `mapstructure:"postgres"`
	Redis    RedisOutputConfig    `mapstructure:"redis"`
	Kafka    KafkaOutputConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQOutputConfig `mapstructure:"rabbitmq"`
}

type WebhookOutputConfig struct {
	sink.WebhookConfig `mapstructure:",squash"`

	Enabled bool `mapstructure:"enabled"`
}

type FileOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ConsoleOutputConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type PostgresOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Table   string `mapstructure:"table"`
}

type RedisOutputConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Mode     string `mapstructure:"mode"`
}

type KafkaOutputConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type RabbitMQOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	QueueName  string `mapstructure:"queue_name"`
	Durable    bool   `mapstructure:"durable"`
}

// --- Helper Functions ---

func loadAppConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	level := log.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = log.LevelDebug
	case "warn":
		level = log.LevelWarn
	case "error":
		level = log.LevelError
	}

	if cfg.Format == "json" {
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(os.Stderr, level)))
		return
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, true)))
}

// buildProtocol returns the adapter for cfg.Protocol. Ethereum contract
// descriptors are only loaded for the granularity that needs them.
func buildProtocol(cfg *config.Config, caller rpc.Caller) (protocol.Protocol, error) {
	switch cfg.Protocol {
	case protocol.Bitcoin:
		return bitcoin.New(caller), nil
	case protocol.Ethereum:
		ethCfg := ethereum.Config{NetworkID: cfg.Ethereum.NetworkID}
		switch cfg.Granularity {
		case scanner.GranularityContract:
			ethCfg.Deployment = &ethereum.DeploymentConfig{
				DeployerContract: cfg.Ethereum.DeployerContract,
				DeployeeContract: cfg.Ethereum.DeployeeContract,
				WatchedEvents:    cfg.Ethereum.WatchedEvents,
				CreationField:    cfg.Ethereum.CreationField,
			}
		case scanner.GranularityEvent:
			ethCfg.Event = &ethereum.EventConfig{
				Contract: cfg.Ethereum.EventContract,
				Event:    cfg.Ethereum.EventName,
			}
		}
		return ethereum.New(caller, contract.NewRegistry(cfg.Ethereum.ContractsDir), ethCfg)
	default:
		return nil, errors.Wrapf(protocol.ErrUnsupported, "protocol %q", cfg.Protocol)
	}
}

func buildStore(cfg config.CheckpointConfig) (storage.Persistence, error) {
	switch cfg.Type {
	case config.StoreMemory:
		return storage.NewMemoryStore(cfg.Prefix), nil
	case config.StoreRedis:
		return storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Prefix)
	case config.StorePostgres:
		return storage.NewPostgresStore(cfg.PostgresURL, cfg.Prefix)
	default:
		return storage.NewFileStore(cfg.Dir)
	}
}

// initOutputs opens every enabled output. One that fails to open is logged
// and skipped. With nothing enabled, records go to the console.
func initOutputs(appCfg *AppConfig) []sink.Output {
	var outputs []sink.Output
	add := func(name string, o sink.Output, err error) {
		if err != nil {
			log.Error("Failed to open output", "output", name, "err", err)
			return
		}
		outputs = append(outputs, o)
	}
	out := appCfg.Outputs

	if out.Webhook.Enabled {
		add("webhook", sink.NewWebhookOutput(out.Webhook.WebhookConfig), nil)
	}
	if out.File.Enabled {
		fo, err := sink.NewFileOutput(out.File.Path)
		add("file", fo, err)
	}
	if out.Console.Enabled {
		add("console", sink.NewConsoleOutput(), nil)
	}
	if out.Postgres.Enabled {
		po, err := sink.NewPostgresOutput(out.Postgres.URL, out.Postgres.Table)
		add("postgres", po, err)
	}
	if out.Redis.Enabled {
		ro, err := sink.NewRedisOutput(out.Redis.Addr, out.Redis.Password, out.Redis.DB, out.Redis.Key, out.Redis.Mode)
		add("redis", ro, err)
	}
	if out.Kafka.Enabled {
		ko, err := sink.NewKafkaOutput(out.Kafka.Brokers, out.Kafka.Topic, out.Kafka.User, out.Kafka.Password)
		add("kafka", ko, err)
	}
	if out.RabbitMQ.Enabled {
		mq, err := sink.NewRabbitMQOutput(out.RabbitMQ.URL, out.RabbitMQ.Exchange, out.RabbitMQ.RoutingKey, out.RabbitMQ.QueueName, out.RabbitMQ.Durable)
		add("rabbitmq", mq, err)
	}

	if len(outputs) == 0 {
		log.Info("No output enabled, writing records to console")
		outputs = append(outputs, sink.NewConsoleOutput())
	}
	return outputs
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "addr", addr, "err", err)
		}
	}()
	log.Info("Serving metrics", "addr", addr)
	return srv
}

func main() {
	if err := Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		log.Crit("Application failed", "err", err)
		os.Exit(1)
	}
}

// Run is the testable entry point of the CLI application
func Run(ctx context.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	coreConfigFile := os.Getenv("CONFIG_FILE")
	if coreConfigFile == "" {
		coreConfigFile = "config.yaml"
	}
	coreCfg, err := config.Load(coreConfigFile)
	if err != nil {
		return err
	}
	setupLogger(coreCfg.Log)

	appConfigFile := os.Getenv("APP_CONFIG_FILE")
	if appConfigFile == "" {
		appConfigFile = "app.yaml"
	}
	appCfg, err := loadAppConfig(appConfigFile)
	if err != nil {
		log.Warn("Failed to load app config", "err", err)
		appCfg = &AppConfig{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New(coreCfg.Metrics.Namespace)
	if coreCfg.Metrics.Addr != "" {
		srv := serveMetrics(coreCfg.Metrics.Addr, m)
		defer srv.Close()
	}

	// Components
	client, err := rpc.NewClient(runCtx, rpc.Config{
		Node: rpc.NodeConfig{
			URL:           rpc.Endpoint(coreCfg.RPC.Scheme, coreCfg.Host, coreCfg.Port),
			User:          coreCfg.User,
			Password:      coreCfg.Password,
			RateLimit:     coreCfg.RPC.RateLimit,
			MaxConcurrent: coreCfg.RPC.MaxConcurrent,
		},
		CallTimeout: coreCfg.RPC.CallTimeout,
	}, rpc.WithMetrics(m))
	if err != nil {
		return err
	}
	defer client.Close()

	proto, err := buildProtocol(coreCfg, client)
	if err != nil {
		return err
	}

	store, err := buildStore(coreCfg.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	fanout := sink.NewFanout(initOutputs(appCfg)...)
	defer fanout.Close()

	s := scanner.New(proto, store, scanner.Config{
		Key:          coreCfg.Checkpoint.Key,
		StartHeight:  coreCfg.StartHeight,
		ForceStart:   coreCfg.Checkpoint.ForceStart,
		Granularity:  coreCfg.Granularity,
		Interval:     coreCfg.Interval,
		RetryBackoff: coreCfg.RPC.RetryBackoff,
		MaxBackoff:   coreCfg.RPC.MaxBackoff,
	}, scanner.WithMetrics(m))
	s.SetHandler(fanout.Send)

	log.Info("Starting scanner",
		"protocol", proto.Name(),
		"endpoint", coreCfg.Host,
		"granularity", s.Granularity(),
		"outputs", fanout.Len(),
	)

	done := make(chan error, 1)
	go func() {
		done <- s.Start(runCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		log.Info("Shutting down...")
	case <-ctx.Done():
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	cancel()
	<-done
	log.Info("Scanner stopped", "height", s.Height())
	return nil
}
