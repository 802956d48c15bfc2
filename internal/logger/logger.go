package logger

import (
	"io"
	"os"

	golog "github.com/ipfs/go-log"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"tss-coordinator/internal/config"
)

// Log is the global logger instance.
var Log = logrus.New()

// InitLogger initializes the global logger based on the provided configuration.
func InitLogger(cfg config.LoggerConfig) error {
	// Set log level
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	Log.SetLevel(level)

	// tss-lib logs through go-log under its own subsystem
	if err := golog.SetLogLevel("tss-lib", tssLibLevel(level)); err != nil {
		Log.Warnf("Failed to set tss-lib log level: %v", err)
	}

	// Set log format
	switch cfg.Format {
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	// Set output
	if cfg.Path != "" {
		lumberjackLogger := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		// Set output to both file and stdout
		mw := io.MultiWriter(os.Stdout, lumberjackLogger)
		Log.SetOutput(mw)
	} else {
		Log.SetOutput(os.Stdout)
	}

	return nil
}

func tssLibLevel(level logrus.Level) string {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "debug"
	case logrus.InfoLevel:
		return "info"
	case logrus.WarnLevel:
		return "warn"
	default:
		return "error"
	}
}

// Ceremony returns an entry tagged with the ceremony coordinates.
func Ceremony(stage, sessionID, walletID string, step int) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"stage":      stage,
		"session_id": sessionID,
		"wallet_id":  walletID,
		"step":       step,
	})
}
