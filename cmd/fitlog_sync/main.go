// Package main implements the fitlog_sync binary which pushes locally logged
// workouts and lifestyle entries to the remote collections.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/fitlog_sync/internal/auth"
	"github.com/cybertec-postgresql/fitlog_sync/internal/etcd"
	"github.com/cybertec-postgresql/fitlog_sync/internal/events"
	"github.com/cybertec-postgresql/fitlog_sync/internal/log"
	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/remote"
	"github.com/cybertec-postgresql/fitlog_sync/internal/status"
	"github.com/cybertec-postgresql/fitlog_sync/internal/store"
	"github.com/cybertec-postgresql/fitlog_sync/internal/sync"
)

// Config holds the application configuration
type Config struct {
	StoreDriver    string        `long:"store" env:"FITLOG_SYNC_STORE" choice:"sqlite" choice:"postgres" default:"sqlite" description:"Local record store"`
	StoreDSN       string        `short:"d" long:"store-dsn" env:"FITLOG_SYNC_STORE_DSN" default:"fitlog.db" description:"SQLite file or PostgreSQL connection string"`
	RemoteURL      string        `short:"r" long:"remote-url" env:"FITLOG_SYNC_REMOTE_URL" description:"Base URL of the remote collection API"`
	EtcdDSN        string        `short:"e" long:"etcd-dsn" env:"FITLOG_SYNC_ETCD_DSN" description:"etcd connection string, replaces --remote-url"`
	Token          string        `short:"t" long:"token" env:"FITLOG_SYNC_TOKEN" description:"Session bearer token"`
	Owner          string        `short:"o" long:"owner" env:"FITLOG_SYNC_OWNER" description:"Owner id, overrides the token claim"`
	LogLevel       string        `short:"l" long:"log-level" env:"FITLOG_SYNC_LOG_LEVEL" default:"info" description:"Log level: debug|info|warn|error"`
	LogJSON        bool          `long:"log-json" env:"FITLOG_SYNC_LOG_JSON" description:"Write logs as JSON"`
	SyncInterval   time.Duration `long:"sync-interval" env:"FITLOG_SYNC_INTERVAL" default:"5m" description:"Automatic sync period while online"`
	PollInterval   time.Duration `long:"poll-interval" env:"FITLOG_SYNC_POLL_INTERVAL" default:"5s" description:"Connectivity and pending count refresh period"`
	ProbeTimeout   time.Duration `long:"probe-timeout" env:"FITLOG_SYNC_PROBE_TIMEOUT" default:"3s" description:"Connectivity check timeout"`
	RequestTimeout time.Duration `long:"request-timeout" env:"FITLOG_SYNC_REQUEST_TIMEOUT" default:"10s" description:"Remote request timeout"`
	Listen         string        `long:"listen" env:"FITLOG_SYNC_LISTEN" default:"localhost:8086" description:"Status server address, empty disables it"`
	KafkaBrokers   []string      `long:"kafka-broker" env:"FITLOG_SYNC_KAFKA_BROKERS" env-delim:"," description:"Kafka broker for sync events, repeatable"`
	KafkaTopic     string        `long:"kafka-topic" env:"FITLOG_SYNC_KAFKA_TOPIC" default:"fitlog.sync" description:"Kafka topic for sync events"`
	Once           bool          `long:"once" description:"Run a single sync pass and exit"`
	Version        bool          `short:"v" long:"version" description:"Show version information"`
	Help           bool

	Add     AddCommand    `command:"add" description:"Store a new pending record locally"`
	Edit    EditCommand   `command:"edit" description:"Change fields of a stored record and mark it pending"`
	Delete  DeleteCommand `command:"delete" description:"Remove a record locally; the remote copy is kept"`
	Command string
}

// AddCommand stores one record without contacting the remote service
type AddCommand struct {
	Kind string `short:"k" long:"kind" choice:"workout" choice:"lifestyle" required:"true" description:"Record kind"`
	Args struct {
		Payload string `positional-arg-name:"payload-json"`
	} `positional-args:"yes" required:"yes"`
}

// EditCommand applies a JSON object of changed fields to one record
type EditCommand struct {
	Key  int64 `short:"k" long:"key" required:"true" description:"Local key of the record"`
	Args struct {
		Changes string `positional-arg-name:"changes-json"`
	} `positional-args:"yes" required:"yes"`
}

// DeleteCommand removes one record from the local store
type DeleteCommand struct {
	Key int64 `short:"k" long:"key" required:"true" description:"Local key of the record"`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	parser.SubcommandsOptional = true // without a command, sync
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 {
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	if parser.Active != nil {
		cmdOpts.Command = parser.Active.Name
	}
	return
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("fitlog_sync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupCloseHandler cancels the context on interrupt or termination
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

// SetupForegroundHandler treats SIGUSR1 as the user returning to the application
func SetupForegroundHandler(ctx context.Context, tracker *status.Tracker) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(c)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c:
				logrus.Debug("Foreground signal received")
				tracker.Foreground()
			}
		}
	}()
}

// localStore is what the binary needs from either store implementation
type localStore interface {
	sync.RecordStore
	status.PendingCounter
	Create(ctx context.Context, rec *record.Record) (int64, error)
	Edit(ctx context.Context, localKey int64, edit record.Edit, now time.Time) (*record.Record, error)
	Delete(ctx context.Context, localKey int64) error
}

func openStore(ctx context.Context, cfg *Config) (localStore, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		st, pool, err := store.OpenPostgres(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, pool.Close, nil
	case "sqlite":
		st, err := store.OpenSQLite(cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {
			if err := st.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close SQLite store")
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func openRemote(ctx context.Context, cfg *Config) (remote.Service, remote.Prober, func(), error) {
	switch {
	case cfg.EtcdDSN != "":
		client, err := etcd.NewClientWithRetry(ctx, cfg.EtcdDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return client, client, func() {
			if err := client.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close etcd client")
			}
		}, nil
	case cfg.RemoteURL != "":
		client := remote.NewHTTPClient(cfg.RemoteURL, remote.WithRequestTimeout(cfg.RequestTimeout))
		return client, remote.NewHealthProbe(cfg.RemoteURL, cfg.ProbeTimeout), func() {}, nil
	}
	return nil, nil, nil, errors.New("either --remote-url or --etcd-dsn is required")
}

func addRecord(ctx context.Context, st localStore, session auth.Session, cmd AddCommand) (int64, error) {
	kind, err := record.ParseKind(cmd.Kind)
	if err != nil {
		return 0, err
	}
	rec, err := record.New(kind, session.Owner, json.RawMessage(cmd.Args.Payload), time.Now())
	if err != nil {
		return 0, err
	}
	return st.Create(ctx, rec)
}

func ownedRecord(ctx context.Context, st localStore, session auth.Session, key int64) (*record.Record, error) {
	rec, err := st.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Owner != session.Owner {
		return nil, fmt.Errorf("record %d belongs to another owner", key)
	}
	return rec, nil
}

func editRecord(ctx context.Context, st localStore, session auth.Session, cmd EditCommand) (*record.Record, error) {
	rec, err := ownedRecord(ctx, st, session, cmd.Key)
	if err != nil {
		return nil, err
	}
	edit, err := record.ParseEdit(rec.Kind, []byte(cmd.Args.Changes))
	if err != nil {
		return nil, err
	}
	return st.Edit(ctx, cmd.Key, edit, time.Now())
}

// runLocalCommand executes a subcommand that only touches the local store
func runLocalCommand(ctx context.Context, st localStore, session auth.Session, config *Config) (string, error) {
	switch config.Command {
	case "add":
		key, err := addRecord(ctx, st, session, config.Add)
		if err != nil {
			return "", fmt.Errorf("failed to add record: %w", err)
		}
		return fmt.Sprintf("stored %s %d", config.Add.Kind, key), nil
	case "edit":
		rec, err := editRecord(ctx, st, session, config.Edit)
		if err != nil {
			return "", fmt.Errorf("failed to edit record: %w", err)
		}
		return fmt.Sprintf("updated %s, version %d, pending", rec, rec.Version), nil
	case "delete":
		if _, err := ownedRecord(ctx, st, session, config.Delete.Key); err != nil {
			return "", fmt.Errorf("failed to delete record: %w", err)
		}
		if err := st.Delete(ctx, config.Delete.Key); err != nil {
			return "", fmt.Errorf("failed to delete record: %w", err)
		}
		return fmt.Sprintf("deleted %d locally", config.Delete.Key), nil
	}
	return "", fmt.Errorf("unknown command %q", config.Command)
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := log.Setup(logrus.StandardLogger(), config.LogLevel, config.LogJSON); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}
	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("fitlog_sync logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	session, err := auth.NewSession(config.Token, config.Owner)
	if err != nil {
		logrus.WithError(err).Warn("No usable session, sync runs will be rejected")
	}

	st, closeStore, err := openStore(ctx, config)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open record store")
	}
	defer closeStore()

	if config.Command != "" {
		msg, err := runLocalCommand(ctx, st, session, config)
		if err != nil {
			logrus.WithError(err).Fatal("Command failed")
		}
		fmt.Println(msg)
		return
	}

	remoteService, probe, closeRemote, err := openRemote(ctx, config)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to remote store")
	}
	defer closeRemote()

	opts := []sync.Option{sync.WithProbeTimeout(config.ProbeTimeout)}
	if len(config.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(config.KafkaBrokers, config.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close Kafka publisher")
			}
		}()
		opts = append(opts, sync.WithObserver(publisher))
	}
	service := sync.NewService(st, remoteService, probe, opts...)

	if config.Once {
		res := service.Run(ctx, session)
		renderResult(os.Stdout, res)
		if !res.Success {
			closeRemote()
			closeStore()
			os.Exit(1)
		}
		return
	}

	tracker := status.NewTracker(service, st, probe, session,
		status.WithSyncInterval(config.SyncInterval),
		status.WithPollInterval(config.PollInterval))
	SetupForegroundHandler(ctx, tracker)

	if config.Listen != "" {
		go func() {
			if err := status.Serve(ctx, config.Listen, status.NewHandler(tracker)); err != nil {
				logrus.WithError(err).Error("Status server stopped")
				cancel()
			}
		}()
	}

	if err := tracker.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("Tracker failed")
	}
	logrus.Info("Graceful shutdown completed")
}
