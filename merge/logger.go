package merge

import "log"

// Logger is the minimal logging surface the merge engine writes to.
// Hosts substitute their own implementation through MergeOptions.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Infof(format string, args ...interface{})  { log.Printf("INFO "+format, args...) }
func (stdLogger) Debugf(format string, args ...interface{}) {}
func (stdLogger) Fatalf(format string, args ...interface{}) { log.Fatalf(format, args...) }

// DefaultLogger logs info through the standard library logger and drops
// debug output.
var DefaultLogger Logger = stdLogger{}
