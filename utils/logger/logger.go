// Package logger wraps logrus with object-tagged, channelized logging so hot
// paths never block on formatting.
package logger

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

type stringer interface {
	String() string
}

type logPair struct {
	logFn func(...any)
	obj   string
	msg   string
}

const (
	queueSize  = 1000
	objWidth   = 20
	msgPadding = "%-100s"
)

var logCh = make(chan logPair, queueSize)

func objToString(obj any) string {
	switch v := obj.(type) {
	case nil:
		return "NIL"
	case stringer:
		return v.String()
	case string:
		return v
	default:
		return reflect.TypeOf(obj).Name()
	}
}

// Init sets the global level and formatter and starts the drain goroutine.
func Init(lvl logrus.Level) {
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		PadLevelText:    true,
		TimestampFormat: "2006/02/01 15:04:05",
	})

	go func() {
		sb := new(bytes.Buffer)
		for pair := range logCh {
			if len(pair.obj) > objWidth {
				pair.obj = pair.obj[:objWidth]
			}
			fmt.Fprintf(sb, "|%20s|"+msgPadding, pair.obj, pair.msg)
			pair.logFn(sb.String())
			sb.Reset()
		}
	}()
}

func enqueue(lvl logrus.Level, logFn func(...any), obj any, msg string) {
	if logrus.GetLevel() < lvl {
		return
	}
	logCh <- logPair{logFn: logFn, obj: objToString(obj), msg: msg}
}

func Trace(object any, message string) {
	enqueue(logrus.TraceLevel, logrus.Trace, object, message)
}

func Tracef(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.TraceLevel {
		return
	}
	enqueue(logrus.TraceLevel, logrus.Trace, object, fmt.Sprintf(message, args...))
}

func Debug(object any, message string) {
	enqueue(logrus.DebugLevel, logrus.Debug, object, message)
}

func Debugf(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.DebugLevel {
		return
	}
	enqueue(logrus.DebugLevel, logrus.Debug, object, fmt.Sprintf(message, args...))
}

func Info(object any, message string) {
	enqueue(logrus.InfoLevel, logrus.Info, object, message)
}

func Infof(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.InfoLevel {
		return
	}
	enqueue(logrus.InfoLevel, logrus.Info, object, fmt.Sprintf(message, args...))
}

func Warning(object any, message string) {
	enqueue(logrus.WarnLevel, logrus.Warning, object, message)
}

func Warningf(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.WarnLevel {
		return
	}
	enqueue(logrus.WarnLevel, logrus.Warning, object, fmt.Sprintf(message, args...))
}

func Error(object any, message string) {
	enqueue(logrus.ErrorLevel, logrus.Error, object, message)
}

func Errorf(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.ErrorLevel {
		return
	}
	enqueue(logrus.ErrorLevel, logrus.Error, object, fmt.Sprintf(message, args...))
}

func Fatal(object any, message string) {
	obj := objToString(object)
	if len(obj) > objWidth {
		obj = obj[:objWidth]
	}
	logrus.Fatalf("|%20s|"+msgPadding, obj, message)
}

func Fatalf(object any, message string, args ...any) {
	Fatal(object, fmt.Sprintf(message, args...))
}
