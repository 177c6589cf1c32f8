// Package log provides a small module-keyed structured logger built on
// top of the standard library's text formatting, colorized via
// fatih/color and go-colorable.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
)

// ModuleName identifies the subsystem a logger belongs to.
type ModuleName string

const (
	Common        ModuleName = "COMMON"
	Ingestion     ModuleName = "INGESTION"
	Follower      ModuleName = "FOLLOWER"
	Reactor       ModuleName = "REACTOR"
	Storage       ModuleName = "STORAGE"
	Ledger        ModuleName = "LEDGER"
	Compose       ModuleName = "COMPOSE"
	ContractModel ModuleName = "CONTRACTMODEL"
	WitValidator  ModuleName = "WITVALIDATOR"
	Feed          ModuleName = "FEED"
	Runtime       ModuleName = "RUNTIME"
	CLI           ModuleName = "CLI"
)

type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
)

var levelNames = map[Level]string{
	LvlCrit:  "CRIT",
	LvlError: "ERROR",
	LvlWarn:  "WARN",
	LvlInfo:  "INFO",
	LvlDebug: "DEBUG",
}

var levelColors = map[Level]*color.Color{
	LvlCrit:  color.New(color.FgRed, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
}

var (
	mu     sync.Mutex
	out    io.Writer = colorable.NewColorableStdout()
	minLvl           = LvlInfo
)

// SetOutput redirects all module loggers. Mainly used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the process-wide minimum level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLvl = l
}

// Logger is the interface every module logger satisfies.
type Logger interface {
	Crit(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
}

type moduleLogger struct {
	module ModuleName
}

// NewModuleLogger returns a logger tagged with the given module name.
func NewModuleLogger(module ModuleName) Logger {
	return &moduleLogger{module: module}
}

func (l *moduleLogger) log(lvl Level, msg string, ctx ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > minLvl {
		return
	}

	caller := fmt.Sprintf("%+v", stack.Caller(2))

	c := levelColors[lvl]
	fmt.Fprintf(out, "%s [%s] %s %s",
		time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		c.Sprint(levelNames[lvl]),
		l.module,
		msg,
	)
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(out, " %v=%v", ctx[i], ctx[i+1])
	}
	fmt.Fprintln(out)

	if lvl == LvlCrit {
		fmt.Fprintf(out, "  at %s\n", caller)
		os.Exit(1)
	}
}

func (l *moduleLogger) Crit(msg string, ctx ...interface{})  { l.log(LvlCrit, msg, ctx...) }
func (l *moduleLogger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx...) }
func (l *moduleLogger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx...) }
func (l *moduleLogger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx...) }
func (l *moduleLogger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx...) }
