/******************************************************************************
 *
 *  Description :
 *    Package exposes info, warning and error loggers.
 *
 *****************************************************************************/
package logs

import (
	"io"
	"log"
	"os"
)

var (
	Info *log.Logger
	Warn *log.Logger
	Err  *log.Logger
)

func init() {
	Init(os.Stderr)
}

// Init directs all three loggers at the given writer.
func Init(w io.Writer) {
	Info = log.New(w, "I", log.LstdFlags|log.Lshortfile)
	Warn = log.New(w, "W", log.LstdFlags|log.Lshortfile)
	Err = log.New(w, "E", log.LstdFlags|log.Lshortfile)
}

// Disable routes all logging to /dev/null. Tests use it to keep output clean.
func Disable() {
	Init(io.Discard)
}
