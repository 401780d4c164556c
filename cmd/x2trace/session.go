package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"x2trace/internal/config"
	"x2trace/internal/selftrace"
)

// session is the per-invocation state shared by all commands.
type session struct {
	log      *zap.Logger
	cfg      *config.Config
	quiet    bool
	useColor bool
	ring     *selftrace.RingTracer
	cleanups []func()
}

var sess = &session{log: zap.NewNop(), cfg: config.Default()}

// setupSession runs before every command: it configures color and
// logging, loads x2trace.toml and starts tracing and profiling.
func setupSession(cmd *cobra.Command, _ []string) error {
	colorFlag, err := rootString(cmd, "color")
	if err != nil {
		return err
	}
	sess.useColor = colorFlag == "on" || (colorFlag == "auto" && isTerminal(os.Stdout))
	color.NoColor = !sess.useColor

	sess.quiet, err = rootBool(cmd, "quiet")
	if err != nil {
		return err
	}
	levelFlag, err := rootString(cmd, "log-level")
	if err != nil {
		return err
	}
	log, err := newLogger(levelFlag, sess.quiet, colorFlag == "on" || (colorFlag == "auto" && isTerminal(os.Stderr)))
	if err != nil {
		return err
	}
	sess.log = log
	sess.cleanups = append(sess.cleanups, func() { _ = log.Sync() })

	configPath, err := rootString(cmd, "config")
	if err != nil {
		return err
	}
	if configPath != "" {
		sess.cfg, err = config.Load(configPath)
	} else {
		sess.cfg, err = config.Discover(".")
	}
	if err != nil {
		return err
	}
	if sess.cfg.Path != "" {
		log.Debug("loaded config", zap.String("path", sess.cfg.Path))
	}

	stopTrace, err := setupTracing(cmd, log)
	if err != nil {
		return err
	}
	sess.cleanups = append(sess.cleanups, stopTrace)

	stopProf, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	sess.cleanups = append(sess.cleanups, stopProf)
	return nil
}

// closeSession runs cleanups in reverse order. Safe to call when setup
// never ran.
func closeSession() {
	for i := len(sess.cleanups) - 1; i >= 0; i-- {
		sess.cleanups[i]()
	}
	sess.cleanups = nil
}

// newLogger builds the console logger on stderr. --quiet keeps errors only.
func newLogger(level string, quiet, useColor bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if quiet && lvl < zapcore.ErrorLevel {
		lvl = zapcore.ErrorLevel
	}

	encCfg := zapcore.EncoderConfig{
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	if useColor {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), lvl)
	return zap.New(core).Named("x2trace"), nil
}
