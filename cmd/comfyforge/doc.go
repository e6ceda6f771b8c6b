// Command comfyforge manages provider keys, runs generation pipelines, and
// hosts the comfyforge daemon.
//
// Key management and synchronous runs work directly against the SQLite
// registry, so they are safe alongside a running daemon. Asynchronous runs
// and run polling go through the daemon's HTTP API.
package main
