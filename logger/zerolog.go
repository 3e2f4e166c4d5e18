// Package logger contains implementations of guardlib.Logger.
//
// The main one is backed by zerolog. Each call to Named or Bind* returns a
// new logger; a logger itself is immutable and safe for concurrent use.
package logger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/rs/zerolog"
)

type zeroLogContext struct {
	log  zerolog.Logger
	name string
}

func (z zeroLogContext) Named(name string) guardlib.Logger {
	newName := name
	if z.name != "" {
		newName = z.name + "." + name
	}

	return zeroLogContext{
		log:  z.log,
		name: newName,
	}
}

func (z zeroLogContext) BindInt(name string, value int) guardlib.Logger {
	return zeroLogContext{
		log:  z.log.With().Int(name, value).Logger(),
		name: z.name,
	}
}

func (z zeroLogContext) BindStr(name, value string) guardlib.Logger {
	return zeroLogContext{
		log:  z.log.With().Str(name, value).Logger(),
		name: z.name,
	}
}

func (z zeroLogContext) BindJSON(name, value string) guardlib.Logger {
	if !json.Valid([]byte(value)) {
		return z.BindStr(name, value)
	}

	return zeroLogContext{
		log:  z.log.With().RawJSON(name, []byte(value)).Logger(),
		name: z.name,
	}
}

// Printf makes this logger usable by libraries which want a printf-style
// sink, like ants.
func (z zeroLogContext) Printf(format string, args ...interface{}) {
	z.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (z zeroLogContext) Info(msg string) {
	z.emit(z.log.Info(), msg)
}

func (z zeroLogContext) Warning(msg string) {
	z.emit(z.log.Warn(), msg)
}

func (z zeroLogContext) Debug(msg string) {
	z.emit(z.log.Debug(), msg)
}

func (z zeroLogContext) InfoError(msg string, err error) {
	z.emit(z.log.Info().Err(err), msg)
}

func (z zeroLogContext) WarningError(msg string, err error) {
	z.emit(z.log.Warn().Err(err), msg)
}

func (z zeroLogContext) DebugError(msg string, err error) {
	z.emit(z.log.Debug().Err(err), msg)
}

func (z zeroLogContext) emit(evt *zerolog.Event, msg string) {
	if z.name != "" {
		evt = evt.Str("logger", z.name)
	}

	evt.Msg(msg)
}

// NewZeroLogger returns a logger which uses a given zerolog instance.
func NewZeroLogger(log zerolog.Logger) guardlib.Logger {
	return zeroLogContext{
		log: log,
	}
}
