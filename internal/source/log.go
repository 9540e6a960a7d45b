package source

import "log"

func logf(format string, args ...any) {
	log.Printf("source: "+format, args...)
}
