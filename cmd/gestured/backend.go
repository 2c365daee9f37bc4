package main

import (
	"context"
	"fmt"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/go-zookeeper/zk"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	"github.com/zoobzio/gesture"
	"github.com/zoobzio/gesture/pkg/badger"
	"github.com/zoobzio/gesture/pkg/consul"
	"github.com/zoobzio/gesture/pkg/etcd"
	"github.com/zoobzio/gesture/pkg/file"
	"github.com/zoobzio/gesture/pkg/firestore"
	"github.com/zoobzio/gesture/pkg/kubernetes"
	gnats "github.com/zoobzio/gesture/pkg/nats"
	"github.com/zoobzio/gesture/pkg/postgres"
	"github.com/zoobzio/gesture/pkg/redis"
	"github.com/zoobzio/gesture/pkg/zookeeper"
	clientv3 "go.etcd.io/etcd/client/v3"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// backend is an opened preference store with its secure settings and writer.
type backend struct {
	store  gesture.Store
	secure gesture.SecureStore
	writer gesture.Writer
	close  func() error
}

// settingsStore is what every backend package provides.
type settingsStore interface {
	gesture.Store
	gesture.SecureStore
	gesture.Writer
}

func single(s settingsStore, closer func() error) *backend {
	if closer == nil {
		closer = func() error { return nil }
	}
	return &backend{store: s, secure: s, writer: s, close: closer}
}

// openBackend connects to the configured backend.
func openBackend(ctx context.Context, cfg *Config) (*backend, error) {
	switch cfg.Backend {
	case "memory":
		store := gesture.NewMemoryStore(nil)
		return &backend{
			store:  store,
			secure: gesture.NewMemorySecureStore(nil),
			writer: store,
			close: func() error {
				store.Close()
				return nil
			},
		}, nil

	case "file":
		prefs := file.New(cfg.Prefs)
		return &backend{
			store:  prefs,
			secure: file.New(cfg.Secure),
			writer: prefs,
			close:  func() error { return nil },
		}, nil

	case "badger":
		db, err := badger.Open(cfg.Badger.Dir)
		if err != nil {
			return nil, err
		}
		return single(badger.New(db), db.Close), nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s := redis.New(client, redis.WithPrefix(cfg.Redis.Prefix))
		if cfg.Redis.Notify {
			if err := s.EnableKeyspaceEvents(ctx); err != nil {
				client.Close()
				return nil, err
			}
		}
		return single(s, client.Close), nil

	case "nats":
		nc, err := natsgo.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create jetstream: %w", err)
		}
		s, err := gnats.CreateBucket(ctx, js, cfg.NATS.Bucket)
		if err != nil {
			nc.Close()
			return nil, err
		}
		return single(s, func() error {
			nc.Close()
			return nil
		}), nil

	case "etcd":
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: 5 * time.Second,
			Context:     ctx,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return single(etcd.New(client, etcd.WithPrefix(cfg.Etcd.Prefix)), client.Close), nil

	case "consul":
		client, err := consulapi.NewClient(&consulapi.Config{
			Address: cfg.Consul.Addr,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create consul client: %w", err)
		}
		return single(consul.New(client, consul.WithPrefix(cfg.Consul.Prefix)), nil), nil

	case "firestore":
		client, err := gcfirestore.NewClient(ctx, cfg.Firestore.Project)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		s := firestore.New(client, firestore.WithCollection(cfg.Firestore.Collection))
		return single(s, client.Close), nil

	case "kubernetes":
		restConfig, err := clientcmd.BuildConfigFromFlags("", cfg.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
		client, err := k8s.NewForConfig(restConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		s := kubernetes.New(client, cfg.Kubernetes.Namespace,
			kubernetes.WithName(cfg.Kubernetes.ConfigMap),
			kubernetes.WithSecret(cfg.Kubernetes.Secret),
		)
		return single(s, nil), nil

	case "zookeeper":
		conn, _, err := zk.Connect(cfg.Zookeeper.Servers, cfg.Zookeeper.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
		}
		s := zookeeper.New(conn, zookeeper.WithRoot(cfg.Zookeeper.Root))
		return single(s, func() error {
			conn.Close()
			return nil
		}), nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		s := postgres.New(pool,
			postgres.WithTable(cfg.Postgres.Table),
			postgres.WithChannel(cfg.Postgres.Channel),
		)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return single(s, func() error {
			pool.Close()
			return nil
		}), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
