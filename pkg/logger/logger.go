package logger

import (
	"io"
	"os"

	"log/slog"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is usable before Init; it then writes through slog's default handler.
var Log = slog.Default()

func Init(logFilePath string) {
	rotator := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    10, // MB
		MaxBackups: 0,  // only one file
		MaxAge:     0,  // ignore age
		Compress:   false,
	}
	writer := io.MultiWriter(os.Stdout, rotator)
	Log = slog.New(slog.NewJSONHandler(writer, nil))
	slog.SetDefault(Log)
}

// Banner prints the startup lines on the console only; they never reach
// the rotated log file.
func Banner(title string, lines ...string) {
	color.New(color.FgCyan, color.Bold).Fprintln(os.Stdout, title)
	for _, l := range lines {
		color.New(color.FgWhite).Fprintln(os.Stdout, "  "+l)
	}
}
