// Package stream implements the ordered, reliable, encrypted byte
// channel of spec §4.6: a send path that segments and sequences bytes
// under flow control, and a receive path that reorders and delivers
// them gap-free to the application.
package stream
