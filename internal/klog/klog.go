// Package klog provides the small per-component tagged logger used across
// the pipeline, mirroring the "[component]" prefix convention used
// throughout the websocket and capture code this module was ported from.
package klog

import (
	"fmt"
	"log"
	"os"
)

// Channel is a tagged logger. It wraps the standard library logger instead
// of a structured-logging framework: none appears anywhere in the examples
// this module was grounded on, and every call site in the teacher repo is
// log.Printf/fmt.Println.
type Channel struct {
	tag string
	l   *log.Logger
}

// New returns a Channel that prefixes every line with "[component] ".
func New(component string) *Channel {
	return &Channel{
		tag: component,
		l:   log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (c *Channel) Debug(format string, args ...any) { c.print("DEBUG", format, args...) }
func (c *Channel) Info(format string, args ...any)  { c.print("INFO", format, args...) }
func (c *Channel) Warn(format string, args ...any)  { c.print("WARN", format, args...) }
func (c *Channel) Error(format string, args ...any) { c.print("ERROR", format, args...) }

func (c *Channel) print(level, format string, args ...any) {
	c.l.Printf("[%s] %s %s", c.tag, level, fmt.Sprintf(format, args...))
}
