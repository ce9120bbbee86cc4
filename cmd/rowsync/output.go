package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func printSuccess(format string, args ...interface{}) {
	printTagged(successColor, "✓", format, args...)
}

func printInfo(format string, args ...interface{}) {
	printTagged(infoColor, "ℹ", format, args...)
}

func printWarning(format string, args ...interface{}) {
	printTagged(warningColor, "⚠", format, args...)
}

func printError(format string, args ...interface{}) {
	printTagged(errorColor, "✗", format, args...)
}

// printTagged writes to os.Stdout at call time so output can be captured
func printTagged(c *color.Color, tag, format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s %s\n", c.Sprint(tag), fmt.Sprintf(format, args...))
}
