package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger writes debug and info events to the standard destination and
// warnings and errors to the error destination. Terminals get console
// output, files get JSON lines.
type Logger struct {
	zerolog.Logger
	files []*os.File
}

func New(verbose bool, stdlog, errlog string) (*Logger, error) {
	var std_writer, err_writer io.Writer
	var files []*os.File

	tryOpenFile := func(path string) (*os.File, error) {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("cannot create log directory: %v", err)
			}
		}
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	fail := func(err error) (*Logger, error) {
		for _, f := range files {
			_ = f.Close()
		}
		return nil, err
	}

	switch stdlog {
	case "stdout", "":
		std_writer = console(os.Stdout)
	case "discard":
		std_writer = io.Discard
	default:
		f, err := tryOpenFile(stdlog)
		if err != nil {
			return fail(fmt.Errorf("cannot open standard log file: %v", err))
		}
		std_writer = f
		files = append(files, f)
	}

	switch errlog {
	case "stderr", "":
		err_writer = console(os.Stderr)
	case "discard":
		err_writer = io.Discard
	default:
		if errlog != stdlog {
			f, err := tryOpenFile(errlog)
			if err != nil {
				return fail(fmt.Errorf("cannot open error log file: %v", err))
			}
			err_writer = f
			files = append(files, f)
		} else {
			err_writer = std_writer
		}
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	w := splitWriter{std: std_writer, err: err_writer}
	return &Logger{
		Logger: zerolog.New(w).Level(level).With().Timestamp().Logger(),
		files:  files,
	}, nil
}

// console renders human-readable lines when f is a terminal.
func console(f *os.File) io.Writer {
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return f
	}
	return zerolog.ConsoleWriter{Out: f, TimeFormat: time.TimeOnly}
}

type splitWriter struct {
	std io.Writer
	err io.Writer
}

func (s splitWriter) Write(p []byte) (int, error) {
	return s.std.Write(p)
}

func (s splitWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level >= zerolog.WarnLevel && level != zerolog.NoLevel {
		return s.err.Write(p)
	}
	return s.std.Write(p)
}

func (l *Logger) Close() error {
	var err error
	for _, f := range l.files {
		err = errors.Join(err, f.Close())
	}
	return err
}
