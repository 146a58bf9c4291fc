// Package link owns the radio serial link.
//
// Inbound, a Listener reads the device, a Receiver splits the byte stream
// into text lines, command tokens, API frames and station packets, and a
// Router applies them to the auxiliary cache or hands commands to a
// callback. Outbound, a Transmitter writes framed telemetry lines on a
// best-effort basis.
package link
