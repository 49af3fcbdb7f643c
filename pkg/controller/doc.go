/*
Package controller bridges external processes into a running client
through the filesystem.

Scripts and supervisors cannot speak the authenticated event channel,
so the client watches a controller file instead. Rewriting one file is
the whole IPC surface; no extra socket, no extra daemon.

# Protocol

Everything lives under the data dir:

	controller_hpscli   the controller file, atomically rewritten
	controller.pid      pid of the client owning the bridge
	logs/
	└── <uuid>.log      one reply per command

The sender writes the command line itself into controller_hpscli. The
monitor polls the file's modification time every 100ms; content that
does not start with the logs directory path is a fresh command. The
monitor then allocates logs/<uuid>.log, rewrites the controller file
with that path as the accept marker, and runs the command in its own
worker. A finished log holds:

	1 | 0               status
	<rendered output>   may span several lines
	1 | 0               terminal indicator

While the command runs the log holds only the status line; the
finished log replaces it in a single rename so the sender never reads
a half-written reply. The sender polls the controller file for the
accept marker, then the log for the terminal indicator. Each step
gives up after 300s.

# Startup

A crashed client leaves the bridge dirty. NewMonitor TERMs the process
recorded in the pid file, removes the controller file, empties logs/,
and claims the bridge with its own pid.
*/
package controller
