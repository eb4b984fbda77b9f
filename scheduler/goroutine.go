package scheduler

import "runtime"

// CurrentGoroutineID returns a marker identifying the calling goroutine.
// Go has no public, stable goroutine-id API, so this reads the goroutine's
// stack trace header, which always starts with "goroutine N [...]" — N is
// stable for the lifetime of that goroutine and unique among live
// goroutines. Used both by LongRunningPool's defensive UI-goroutine
// assertion and by manager.Manager's UI-thread identity check, so it lives
// here rather than being duplicated in both packages.
func CurrentGoroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	return parseGoroutineID(buf[:n])
}

func parseGoroutineID(b []byte) uint64 {
	// Expected prefix: "goroutine 123 ["
	var id uint64
	i := len("goroutine ")
	if len(b) <= i {
		return 0
	}
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		id = id*10 + uint64(b[i]-'0')
		i++
	}
	return id
}
