// Package logging provides the Logger interface shared by every fundmesh
// component, plus a default implementation backed by logrus.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is implemented by anything that can receive leveled log lines.
// Every fundmesh component takes one of these, so tests can inject a
// silent or buffering implementation; transport additionally writes some
// warnings through prometheus/common/log's package-level logger.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output, returning the
	// new state.
	ToggleDebug(value bool) bool
}

// Default is the logrus-backed Logger used when a component isn't given
// one explicitly.
type Default struct {
	entry *logrus.Logger
	debug bool
}

// NewDefault builds a Default logger writing to stderr with a
// text formatter. The component argument is not recorded in the output.
func NewDefault(component string) *Default {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	l.SetLevel(logrus.InfoLevel)
	return &Default{entry: l}
}

func (d *Default) Info(v ...interface{})                    { d.entry.Info(v...) }
func (d *Default) Infof(format string, v ...interface{})    { d.entry.Infof(format, v...) }
func (d *Default) Warn(v ...interface{})                    { d.entry.Warn(v...) }
func (d *Default) Warnf(format string, v ...interface{})    { d.entry.Warnf(format, v...) }
func (d *Default) Error(v ...interface{})                   { d.entry.Error(v...) }
func (d *Default) Errorf(format string, v ...interface{})   { d.entry.Errorf(format, v...) }
func (d *Default) Fatal(v ...interface{})                   { d.entry.Fatal(v...) }
func (d *Default) Fatalf(format string, v ...interface{})   { d.entry.Fatalf(format, v...) }

func (d *Default) Debug(v ...interface{}) {
	if d.debug {
		d.entry.Debug(v...)
	}
}

func (d *Default) Debugf(format string, v ...interface{}) {
	if d.debug {
		d.entry.Debugf(format, v...)
	}
}

func (d *Default) ToggleDebug(value bool) bool {
	d.debug = value
	if value {
		d.entry.SetLevel(logrus.DebugLevel)
	} else {
		d.entry.SetLevel(logrus.InfoLevel)
	}
	return d.debug
}
