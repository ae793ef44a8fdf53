package logger

// Field is a structured key/value attached to a log record.
type Field struct {
	Key   string
	Value any
}

// Logger is the leveled, structured sink used across the relay.
type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
}

func F(key string, val any) Field { return Field{Key: key, Value: val} }

// Err is shorthand for F("error", err).
func Err(err error) Field { return Field{Key: "error", Value: err} }
