// Command uplink streams the latest recorded exercise snapshot to the
// telemetry server over a websocket.
package main

func main() {
	Execute()
}
