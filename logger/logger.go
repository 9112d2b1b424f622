// Package logger provides adapters for popular logger libraries to work with latchtree's Logger interface.
//
// The adapters allow you to use your existing logger with latchtree without writing boilerplate.
// Note that the standard library's slog.Logger already implements latchtree.Logger directly.
//
// Example with zap:
//
//	import (
//	    "latchtree"
//	    "logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    db, err := latchtree.Open("data.db", latchtree.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer db.Close()
//	}
package logger
