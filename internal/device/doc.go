// Package device describes Bluetooth Classic devices found by discovery:
// address, names, class of device and the signal-strength buckets shown to users.
package device
