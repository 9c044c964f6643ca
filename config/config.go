// Package config holds the settings of every taskbroker role, loaded through
// viper from defaults, an optional YAML file and TASKBROKER_* environment
// variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/dermesser/taskbroker/log"
)

// EnvPrefix is prepended to environment variables; TASKBROKER_BROKER_FRONTEND sets broker.frontend.
const EnvPrefix = "TASKBROKER"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Client   ClientConfig   `mapstructure:"client"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type LogConfig struct {
	// One of none, error, warn, info, debug
	Level string `mapstructure:"level"`
	// Human-readable output instead of JSON lines
	Console bool `mapstructure:"console"`
}

type BrokerConfig struct {
	Frontend string `mapstructure:"frontend"`
	Backend  string `mapstructure:"backend"`
	// Backlog bound; 0 is unbounded
	MaxPending int `mapstructure:"max_pending"`
	// Deadline for a forwarded request; 0 disables it
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RequeueLost    bool          `mapstructure:"requeue_lost"`
	// Silent workers are dropped after this long; 0 keeps them forever
	PeerTTL time.Duration `mapstructure:"peer_ttl"`
	// Interval of the periodic metrics log; 0 disables it
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

type WorkerConfig struct {
	Backend   string        `mapstructure:"backend"`
	Count     int           `mapstructure:"count"`
	Delay     time.Duration `mapstructure:"delay"`
	Reply     string        `mapstructure:"reply"`
	Echo      bool          `mapstructure:"echo"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

type ClientConfig struct {
	Frontend string        `mapstructure:"frontend"`
	Requests int           `mapstructure:"requests"`
	Message  string        `mapstructure:"message"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	// Where the ventilator binds for workers
	Tasks string `mapstructure:"tasks"`
	// Where the sink binds
	Sink string `mapstructure:"sink"`
	// Where pipeline workers connect for tasks
	TasksPeer string `mapstructure:"tasks_peer"`
	// Where workers and the ventilator connect to the sink
	SinkPeer    string        `mapstructure:"sink_peer"`
	Batch       int           `mapstructure:"batch"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxWorkload time.Duration `mapstructure:"max_workload"`
	// Ventilator waits for Enter before sending
	WaitEnter bool `mapstructure:"wait_enter"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "warn"},
		Broker: BrokerConfig{
			Frontend:        "tcp://*:5559",
			Backend:         "tcp://*:5560",
			PeerTTL:         5 * time.Second,
			MetricsInterval: 0,
		},
		Worker: WorkerConfig{
			Backend:   "tcp://localhost:5560",
			Count:     1,
			Delay:     time.Second,
			Reply:     "World",
			Heartbeat: time.Second,
		},
		Client: ClientConfig{
			Frontend: "tcp://localhost:5559",
			Requests: 10,
			Message:  "Hello",
			Timeout:  10 * time.Second,
		},
		Pipeline: PipelineConfig{
			Tasks:       "tcp://*:5557",
			Sink:        "tcp://*:5558",
			TasksPeer:   "tcp://localhost:5557",
			SinkPeer:    "tcp://localhost:5558",
			Batch:       100,
			Concurrency: 1,
			MaxWorkload: 100 * time.Millisecond,
			WaitEnter:   true,
		},
	}
}

// SetDefaults registers the default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)

	v.SetDefault("broker.frontend", d.Broker.Frontend)
	v.SetDefault("broker.backend", d.Broker.Backend)
	v.SetDefault("broker.max_pending", d.Broker.MaxPending)
	v.SetDefault("broker.request_timeout", d.Broker.RequestTimeout)
	v.SetDefault("broker.requeue_lost", d.Broker.RequeueLost)
	v.SetDefault("broker.peer_ttl", d.Broker.PeerTTL)
	v.SetDefault("broker.metrics_interval", d.Broker.MetricsInterval)

	v.SetDefault("worker.backend", d.Worker.Backend)
	v.SetDefault("worker.count", d.Worker.Count)
	v.SetDefault("worker.delay", d.Worker.Delay)
	v.SetDefault("worker.reply", d.Worker.Reply)
	v.SetDefault("worker.echo", d.Worker.Echo)
	v.SetDefault("worker.heartbeat", d.Worker.Heartbeat)

	v.SetDefault("client.frontend", d.Client.Frontend)
	v.SetDefault("client.requests", d.Client.Requests)
	v.SetDefault("client.message", d.Client.Message)
	v.SetDefault("client.timeout", d.Client.Timeout)

	v.SetDefault("pipeline.tasks", d.Pipeline.Tasks)
	v.SetDefault("pipeline.sink", d.Pipeline.Sink)
	v.SetDefault("pipeline.tasks_peer", d.Pipeline.TasksPeer)
	v.SetDefault("pipeline.sink_peer", d.Pipeline.SinkPeer)
	v.SetDefault("pipeline.batch", d.Pipeline.Batch)
	v.SetDefault("pipeline.concurrency", d.Pipeline.Concurrency)
	v.SetDefault("pipeline.max_workload", d.Pipeline.MaxWorkload)
	v.SetDefault("pipeline.wait_enter", d.Pipeline.WaitEnter)
}

// Init prepares v: defaults, environment and, if file is not empty, the config file.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		return nil
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading config file %s", file)
	}
	return nil
}

// Load decodes the settings in v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	return &c, nil
}

var logLevels = map[string]int{
	"none":  log.LevelNone,
	"error": log.LevelErrors,
	"warn":  log.LevelWarnings,
	"info":  log.LevelInfo,
	"debug": log.LevelDebug,
}

// LogLevel returns the configured level for the log package.
func (c *LogConfig) LogLevel() (int, error) {
	ll, ok := logLevels[strings.ToLower(c.Level)]
	if !ok {
		return 0, errors.Errorf("unknown log level %q", c.Level)
	}
	return ll, nil
}

// Apply configures the log package.
func (c *LogConfig) Apply() error {
	ll, err := c.LogLevel()
	if err != nil {
		return err
	}
	log.SetConsole(c.Console)
	log.SetLoglevel(ll)
	return nil
}
