package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the daemon configuration. Every key can be set by flag or by an
// environment variable prefixed with GESTURED_, with dots replaced by
// underscores: "redis.addr" is GESTURED_REDIS_ADDR.
type Config struct {
	Backend    string           `mapstructure:"backend" validate:"oneof=memory file badger redis nats etcd consul firestore kubernetes zookeeper postgres"`
	Prefs      string           `mapstructure:"prefs"`
	Secure     string           `mapstructure:"secure"`
	System     string           `mapstructure:"system"`
	Debounce   time.Duration    `mapstructure:"debounce" validate:"gte=0"`
	Retries    int              `mapstructure:"retries" validate:"gte=0"`
	Log        LogConfig        `mapstructure:"log"`
	Badger     BadgerConfig     `mapstructure:"badger"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Etcd       EtcdConfig       `mapstructure:"etcd"`
	Consul     ConsulConfig     `mapstructure:"consul"`
	Firestore  FirestoreConfig  `mapstructure:"firestore"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Zookeeper  ZookeeperConfig  `mapstructure:"zookeeper"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Torch      TorchConfig      `mapstructure:"torch"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	DB     int    `mapstructure:"db"`
	Prefix string `mapstructure:"prefix"`
	Notify bool   `mapstructure:"notify"`
}

// NATSConfig configures the nats backend.
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Bucket string `mapstructure:"bucket"`
}

// EtcdConfig configures the etcd backend.
type EtcdConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
	Prefix    string   `mapstructure:"prefix"`
}

// ConsulConfig configures the consul backend.
type ConsulConfig struct {
	Addr   string `mapstructure:"addr"`
	Prefix string `mapstructure:"prefix"`
}

// FirestoreConfig configures the firestore backend. FIRESTORE_EMULATOR_HOST
// points the client at an emulator.
type FirestoreConfig struct {
	Project    string `mapstructure:"project"`
	Collection string `mapstructure:"collection"`
}

// KubernetesConfig configures the kubernetes backend. An empty kubeconfig
// uses the in-cluster configuration.
type KubernetesConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	Namespace  string `mapstructure:"namespace"`
	ConfigMap  string `mapstructure:"configmap"`
	Secret     string `mapstructure:"secret"`
}

// ZookeeperConfig configures the zookeeper backend.
type ZookeeperConfig struct {
	Servers []string      `mapstructure:"servers"`
	Root    string        `mapstructure:"root" validate:"startswith=/"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	Channel string `mapstructure:"channel"`
}

// TorchConfig configures the chop-chop torch.
type TorchConfig struct {
	Dir string `mapstructure:"dir"`
}

// validate checks a decoded Config.
var validate = validator.New()

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"backend":              "backend",
	"prefs":                "prefs",
	"secure":               "secure",
	"system":               "system",
	"debounce":             "debounce",
	"retries":              "retries",
	"log-level":            "log.level",
	"log-format":           "log.format",
	"badger-dir":           "badger.dir",
	"redis-addr":           "redis.addr",
	"redis-db":             "redis.db",
	"redis-prefix":         "redis.prefix",
	"redis-notify":         "redis.notify",
	"nats-url":             "nats.url",
	"nats-bucket":          "nats.bucket",
	"etcd-endpoints":       "etcd.endpoints",
	"etcd-prefix":          "etcd.prefix",
	"consul-addr":          "consul.addr",
	"consul-prefix":        "consul.prefix",
	"firestore-project":    "firestore.project",
	"firestore-collection": "firestore.collection",
	"kube-config":          "kubernetes.kubeconfig",
	"kube-namespace":       "kubernetes.namespace",
	"kube-configmap":       "kubernetes.configmap",
	"zk-servers":           "zookeeper.servers",
	"zk-root":              "zookeeper.root",
	"zk-timeout":           "zookeeper.timeout",
	"kube-secret":          "kubernetes.secret",
	"postgres-dsn":         "postgres.dsn",
	"postgres-table":       "postgres.table",
	"postgres-channel":     "postgres.channel",
	"torch-dir":            "torch.dir",
}

// addFlags registers the configuration flags with their defaults.
func addFlags(fs *pflag.FlagSet) {
	fs.String("backend", "file", "preference backend: memory, file, badger, redis, nats, etcd, consul, firestore, kubernetes, zookeeper, postgres")
	fs.String("prefs", "prefs.json", "preference document (file backend)")
	fs.String("secure", "secure.json", "secure settings document (file backend)")
	fs.String("system", "", "document that untracked preferences are mirrored into")
	fs.Duration("debounce", 0, "coalesce notifications within this window")
	fs.Int("retries", 3, "attempts to mirror an untracked preference")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text, json")
	fs.String("badger-dir", "", "badger directory; empty for in-memory")
	fs.String("redis-addr", "localhost:6379", "redis address")
	fs.Int("redis-db", 0, "redis database")
	fs.String("redis-prefix", "gesture:", "redis key prefix")
	fs.Bool("redis-notify", false, "enable keyspace notifications on connect")
	fs.String("nats-url", "nats://localhost:4222", "nats server url")
	fs.String("nats-bucket", "gesture", "jetstream key-value bucket")
	fs.StringSlice("etcd-endpoints", []string{"localhost:2379"}, "etcd endpoints")
	fs.String("etcd-prefix", "/gesture/", "etcd key prefix")
	fs.String("consul-addr", "localhost:8500", "consul agent address")
	fs.String("consul-prefix", "gesture/", "consul KV prefix")
	fs.String("firestore-project", "", "google cloud project")
	fs.String("firestore-collection", "gesture_preferences", "firestore collection")
	fs.String("kube-config", "", "kubeconfig path; empty for in-cluster")
	fs.String("kube-namespace", "default", "kubernetes namespace")
	fs.String("kube-configmap", "gesture-preferences", "ConfigMap holding preferences")
	fs.String("kube-secret", "gesture-preferences", "Secret holding secure settings")
	fs.StringSlice("zk-servers", []string{"localhost:2181"}, "zookeeper servers")
	fs.String("zk-root", "/gesture", "zookeeper root node")
	fs.Duration("zk-timeout", 10*time.Second, "zookeeper session timeout")
	fs.String("postgres-dsn", "", "postgres connection string")
	fs.String("postgres-table", "gesture_preferences", "postgres table")
	fs.String("postgres-channel", "gesture_preferences_changed", "postgres notification channel")
	fs.String("torch-dir", "", "LED class directory of the torch")
}

// loadConfig resolves flags and GESTURED_ environment variables into a Config.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GESTURED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
