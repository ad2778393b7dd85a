// Package reactor provides poll(2)-backed readiness notification for
// descriptors that live outside the Go runtime poller.
package reactor
