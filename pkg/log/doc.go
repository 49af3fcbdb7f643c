// Package log provides the zerolog-backed global logger for the HPS CLI.
package log
