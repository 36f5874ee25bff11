// Package clock provides the stream time source. One NTP sample taken at startup is
// advanced by the local monotonic clock; an unreachable server degrades to wall clock time.
package clock
