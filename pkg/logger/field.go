package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field is one structured key/value on a log entry.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, any)
}

type StringField struct {
	Key   string
	Value string
}

func (f StringField) AddTo(e *zerolog.Event) { e.Str(f.Key, f.Value) }
func (f StringField) GetKeyValue() (string, any) { return f.Key, f.Value }

type IntField struct {
	Key   string
	Value int
}

func (f IntField) AddTo(e *zerolog.Event) { e.Int(f.Key, f.Value) }
func (f IntField) GetKeyValue() (string, any) { return f.Key, f.Value }

type Int64Field struct {
	Key   string
	Value int64
}

func (f Int64Field) AddTo(e *zerolog.Event) { e.Int64(f.Key, f.Value) }
func (f Int64Field) GetKeyValue() (string, any) { return f.Key, f.Value }

type FloatField struct {
	Key   string
	Value float64
}

func (f FloatField) AddTo(e *zerolog.Event) { e.Float64(f.Key, f.Value) }
func (f FloatField) GetKeyValue() (string, any) { return f.Key, f.Value }

type BoolField struct {
	Key   string
	Value bool
}

func (f BoolField) AddTo(e *zerolog.Event) { e.Bool(f.Key, f.Value) }
func (f BoolField) GetKeyValue() (string, any) { return f.Key, f.Value }

type ErrorField struct {
	Value error
}

func (f ErrorField) AddTo(e *zerolog.Event) { e.Err(f.Value) }

func (f ErrorField) GetKeyValue() (string, any) {
	if f.Value == nil {
		return zerolog.ErrorFieldName, nil
	}
	return zerolog.ErrorFieldName, f.Value.Error()
}

type AnyField struct {
	Key   string
	Value any
}

func (f AnyField) AddTo(e *zerolog.Event) { e.Interface(f.Key, f.Value) }
func (f AnyField) GetKeyValue() (string, any) { return f.Key, f.Value }

func String(key, value string) Field { return StringField{Key: key, Value: value} }
func Int(key string, value int) Field { return IntField{Key: key, Value: value} }
func Int64(key string, value int64) Field { return Int64Field{Key: key, Value: value} }
func Float64(key string, v float64) Field { return FloatField{Key: key, Value: v} }
func Bool(key string, value bool) Field { return BoolField{Key: key, Value: value} }
func Error(err error) Field { return ErrorField{Value: err} }
func Any(key string, value any) Field { return AnyField{Key: key, Value: value} }
func Strings(key string, v []string) Field { return String(key, strings.Join(v, ", ")) }

// Duration logs d in milliseconds.
func Duration(key string, d time.Duration) Field {
	return FloatField{Key: key + "_ms", Value: float64(d.Microseconds()) / 1000}
}
