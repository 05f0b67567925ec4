// Package obs holds the observability plumbing shared by the HTTP layer:
// the process-wide JSON line logger and the prometheus metrics.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide logger. Request and audit events all
// funnel through it, one JSON object per line on stdout.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest marshals the entry and writes it as a single log line.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"obs: entry marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
