package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"PenPal/examples/plugins/coreapi"
	"PenPal/examples/plugins/datastore"
	"PenPal/internal/api"
	"PenPal/internal/config"
	xerrors "PenPal/internal/errors"
	"PenPal/internal/events"
	"PenPal/internal/observability/alerting"
	"PenPal/internal/observability/metrics"
	"PenPal/internal/registry"
	"PenPal/internal/storage/mysql"
	"PenPal/internal/storage/redis"
	"PenPal/pkg/logger"
	"PenPal/pkg/plugin"
)

// daemon 汇总一次运行所需的全部组件。
type daemon struct {
	cfg       *config.Config
	log       *slog.Logger
	manager   *plugin.Manager
	store     registry.Store
	publisher events.Publisher
	alerts    alerting.Dispatcher
}

func newDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	store, err := openStore(ctx, cfg.Registry)
	if err != nil {
		return nil, err
	}
	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		store.Close()
		return nil, err
	}

	d := &daemon{
		cfg:       cfg,
		log:       logger.Named("penpald"),
		store:     store,
		publisher: publisher,
		alerts:    alerting.NewFanout(&alerting.LogNotifier{}),
	}

	manager, err := plugin.NewManager(cfg.Plugins,
		plugin.WithObserver(metrics.PluginObserver{}),
		plugin.WithObserver(events.NewObserver(publisher)),
		plugin.WithObserver(&alerting.Observer{Dispatcher: d.alerts}),
	)
	if err != nil {
		d.close()
		return nil, err
	}
	d.manager = manager
	return d, nil
}

// load 注册内置插件、扫描插件目录、执行加载与启动钩子并保存快照。
func (d *daemon) load(ctx context.Context) error {
	for _, builtin := range []struct {
		manifest plugin.Manifest
		impl     plugin.Plugin
	}{
		{datastore.Manifest, datastore.New(d.manager)},
		{coreapi.Manifest, coreapi.New()},
	} {
		if err := d.manager.Register(builtin.manifest, builtin.impl); err != nil && plugin.CodeOf(err) != plugin.CodeDisabled {
			d.log.Warn("内置插件注册失败", "plugin", builtin.manifest.Key(), "error", err)
		}
	}

	discovered, err := d.manager.Discover("")
	if err != nil {
		return err
	}
	d.log.Info("插件目录扫描完成", "dir", d.cfg.Plugins.PluginDir, "registered", discovered)

	started := time.Now()
	_, loadErr := d.manager.LoadPlugins(ctx)
	metrics.SetPluginsLoaded(len(d.manager.Loaded()))
	if loadErr != nil {
		d.alert(ctx, loadErr)
		return loadErr
	}
	d.log.Info("插件加载完成", "loaded", len(d.manager.Loaded()), "elapsed", time.Since(started))

	if err := d.manager.RunStartupHooks(ctx); err != nil {
		d.alert(ctx, err)
		return err
	}

	// 快照只服务于外部读取，保存失败不影响已加载的插件。
	snap := registry.Capture(d.manager)
	if err := d.store.Save(ctx, snap); err != nil {
		d.log.Error("保存注册表快照失败", "snapshot", snap.ID, "error", err)
		d.alert(ctx, xerrors.Wrap(xerrors.CodeStorageFailure, err, "save registry snapshot", xerrors.WithSeverity(xerrors.SeverityWarning)))
		return nil
	}
	d.log.Info("注册表快照已保存", "snapshot", snap.ID, "plugins", len(snap.Plugins))
	return nil
}

func (d *daemon) alert(ctx context.Context, err error) {
	if !alerting.ShouldAlert(err) {
		return
	}
	if notifyErr := d.alerts.Notify(ctx, alerting.FromError("", err)); notifyErr != nil {
		d.log.Warn("发送告警失败", "error", notifyErr)
	}
}

func (d *daemon) close() {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.log.Warn("关闭事件发布器失败", "error", err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.log.Warn("关闭快照存储失败", "error", err)
		}
	}
	_ = logger.Sync()
}

// serve 完成加载后对外提供 API，直到收到退出信号。
func serve(ctx context.Context, cfg *config.Config) error {
	d, err := newDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.load(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, d.manager, d.store).WithShutdownTimeout(cfg.Server.ShutdownTimeout)
	d.log.Info("API 服务启动", "addr", cfg.Server.Address)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.log.Info("penpald 已退出")
	return nil
}

func openStore(ctx context.Context, cfg config.RegistryConfig) (registry.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return registry.NewMemoryStore(cfg.Redis.History), nil
	case "mysql":
		return mysql.NewSnapshotRepository(ctx, mysql.Config{DSN: cfg.MySQL.DSN})
	case "redis":
		return redis.NewSnapshotStore(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			History:  cfg.Redis.History,
		})
	default:
		return nil, fmt.Errorf("不支持的 registry.driver: %s", cfg.Driver)
	}
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "memory", "":
		return events.NewMemoryPublisher(0), nil
	case "none":
		return events.NopPublisher{}, nil
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{URL: cfg.RabbitMQ.URL, Queue: cfg.RabbitMQ.Queue})
	default:
		return nil, fmt.Errorf("不支持的 events.driver: %s", cfg.Driver)
	}
}
