// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"fmt"
	"io"
	"os"

	"github.com/curioloop/lmfit/dense"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only one line at the last iteration
	LogLast LogLevel = 0
	// LogEval print also |f| and the trust region every iteration (0 < level < 99)
	LogEval LogLevel = 1
	// LogTrace print details of every trial step and damping search except n-vectors
	LogTrace LogLevel = 99
	// LogVerbose print details of every iteration including x and dx (level > 99)
	LogVerbose LogLevel = 100
)

// Logger handles logging output for the solver.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

// normalize fills in default writers.
func (l *Logger) normalize() {
	if l.Msg == nil {
		l.Msg = os.Stdout
	}
	if l.Out == nil {
		l.Out = os.Stderr
	}
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

func (l *Logger) out(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}

// vec prints v six entries per line.
func (l *Logger) vec(name string, v dense.Vector) {
	l.log("%s = ", name)
	for i := 0; i < v.Len(); i++ {
		l.log("%.2e ", v.At(i))
		if (i+1)%6 == 0 {
			l.log("\n     ")
		}
	}
	l.log("\n")
}
