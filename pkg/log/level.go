package log

import "strings"

type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	Fatal
)

func (l LogLevel) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Parse maps a configured level name to a LogLevel. Unknown names fall back to Info.
func Parse(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return Debug
	case "INFO":
		return Info
	case "WARN", "WARNING":
		return Warn
	case "ERROR":
		return Error
	case "FATAL":
		return Fatal
	default:
		return Info
	}
}

// Color returns the ANSI escape used to prefix terminal lines of this level.
func Color(level LogLevel) string {
	switch level {
	case Debug:
		return "\033[90m"
	case Info:
		return "\033[36m"
	case Warn:
		return "\033[33m"
	case Error, Fatal:
		return "\033[31m"
	default:
		return "\033[0m"
	}
}
