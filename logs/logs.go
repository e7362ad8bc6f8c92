/******************************************************************************
 *
 *  Description :
 *    Package exposes info, warning and error loggers shared by the post
 *    office and central post office runtimes.
 *
 *****************************************************************************/
package logs

import (
	"log"
	"os"
)

var (
	Info    *log.Logger
	Warning *log.Logger
	Error   *log.Logger
)

// Init configures the package-level loggers. Safe to call more than once;
// later calls replace the previous loggers.
func Init() {
	Info = log.New(os.Stdout, "I ", log.LstdFlags|log.Lshortfile)
	Warning = log.New(os.Stdout, "W ", log.LstdFlags|log.Lshortfile)
	Error = log.New(os.Stdout, "E ", log.LstdFlags|log.Lshortfile)
}

func init() {
	// Always usable even if Init is never called explicitly.
	Init()
}
