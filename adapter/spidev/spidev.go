// Package spidev connects to an MCP2515 on a Linux spidev node, with INT on a
// sysfs GPIO or polled over SPI.
package spidev

const (
	Name         = "spidev"
	DefaultPort  = "/dev/spidev0.0"
	DefaultSPIHz = 8e6
	maxSPIHz     = 10e6
)
