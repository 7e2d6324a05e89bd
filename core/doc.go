// Package core holds the small value types shared by every layer of rollwin:
// index ranges, fetch status, prefetch priority, device class and records.
package core
