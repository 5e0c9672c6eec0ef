package main

import (
	"fmt"
	"os"
	"time"

	"github.com/42wim/membersync/bridge"
	"github.com/42wim/membersync/bridge/local"
	"github.com/42wim/membersync/config"
	"github.com/42wim/membersync/console"
	"github.com/42wim/membersync/memberlist"
	"github.com/42wim/membersync/pkg/presence"
	"github.com/42wim/membersync/pkg/profile"
	"github.com/fsnotify/fsnotify"
	"github.com/google/gops/agent"
	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	version = "0.1.0-dev"
	githash string
	logger  *logrus.Entry
)

func main() {
	ourlog := logrus.New()
	ourlog.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 14,
		FullTimestamp: true,
	})
	ourlog.SetOutput(os.Stderr)

	logger = ourlog.WithFields(logrus.Fields{"prefix": "main"})

	flagConfig := flag.String("conf", "", "config file")
	flagVersion := flag.Bool("version", false, "show version")
	flag.Bool("debug", false, "enable debug logging")
	flag.Bool("trace", false, "enable trace logging")
	flag.Bool("gops", false, "enable gops agent")
	flag.String("db", "membersync.db", "bolt database holding the local circle")
	flag.String("user", "me", "current user id")
	flag.String("server", "", "server to show the members of")
	flag.String("channel", "", "channel to show the members of, empty for the whole server")
	flag.Int("pagesize", memberlist.DefaultPageSize, "members per page")
	flag.Int("seed", 0, "add this many generated members before starting")
	flag.Int("width", console.DefaultWidth, "screen width")
	flag.Parse()

	if *flagVersion {
		fmt.Printf("version: %s %s\n", version, githash)
		return
	}

	v, err := config.LoadConfig(*flagConfig)
	if err != nil {
		logger.Fatalf("could not load config: %s", err)
	}

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		logger.Fatal(err)
	}

	cfg, err := config.Decode(v)
	if err != nil {
		logger.Fatal(err)
	}

	if cfg.Debug {
		logger.Info("enabling debug")
		ourlog.SetLevel(logrus.DebugLevel)
	}

	if cfg.Trace {
		logger.Info("enabling trace")
		ourlog.SetLevel(logrus.TraceLevel)
	}

	if cfg.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Error(err)
		}
		logger.Info("gops agent started")
	}

	setLoggers(ourlog)

	logger.Infof("membersync %s starting", version)

	os.Exit(run(cfg, v))
}

func setLoggers(ourlog *logrus.Logger) {
	local.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "bridge/local"}))
	memberlist.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "memberlist"}))
	presence.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "presence"}))
	profile.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "profile"}))
	console.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "console"}))
}

func run(cfg *config.Config, v *viper.Viper) int {
	backend, err := local.Open(cfg.DB, cfg.User)
	if err != nil {
		logger.Error(err)
		return 1
	}
	defer backend.Close()

	scope := bridge.ServerScope(cfg.Server)
	if cfg.Channel != "" {
		scope = bridge.ChannelScope(cfg.Server, cfg.Channel)
	}

	if cfg.Seed > 0 {
		if _, err := backend.Seed(scope, cfg.Seed); err != nil {
			logger.Errorf("seeding %s failed: %s", scope, err)
			return 1
		}
	}

	presenceCache := presence.New(backend, cfg.PresenceTTL)

	profileCache, err := profile.New(backend, cfg.ProfileCache)
	if err != nil {
		logger.Error(err)
		return 1
	}

	screen := console.New(console.Options{
		Backend:  backend,
		Presence: presenceCache,
		Names:    profileCache,
		Out:      os.Stdout,
		Width:    cfg.Width,
	})

	ctrl := memberlist.NewController(memberlist.Options{
		Scope:    scope,
		Circle:   backend,
		Presence: presenceCache,
		Profiles: profileCache,
		Listener: screen,
		PageSize: cfg.PageSize,
		Clock:    time.Now,
	})

	screen.Attach(ctrl)

	// width follows the config file, page size only applies to new sessions
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Infof("config %s changed, width is now %d", e.Name, v.GetInt("width"))
		screen.SetWidth(v.GetInt("width"))
	})

	ctrl.Start()

	reason := screen.Run(os.Stdin)

	ctrl.Stop()

	logger.Infof("session closed: %s", reason)

	return 0
}
