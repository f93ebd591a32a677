package lowka

import (
	"os"
	"runtime/debug"
	"runtime/pprof"
)

// withRecover runs fn, logging and dumping a stack trace instead of
// crashing the process if fn panics. The sender goroutine (§4.8, §9
// "Sender supervisor") is wrapped in this so a defect in the send path
// cannot crash the host process. withRecover does not restart fn: the
// goroutine ends after the panic is logged, and the once-a-minute
// supervisor in producer.go restarts a sender that has exited.
func withRecover(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			Logger.Printf("lowka: recovered from panic in producer goroutine: %v", rec)
			debug.PrintStack()
			_ = pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()
	fn()
}
