// Package testutils provides test utilities shared across the IPTV hub packages.
package testutils
