// internal/app/helpers.go
package app

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"
)

// NormalizeLocalViewer ensures the dashboard only binds to localhost
// and returns listen addr, browser URL, and TCP check addr.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string, tcpAddr string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	listenAddr = a
	url = "http://" + a
	tcpAddr = a
	return
}

func WaitTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", addr)
}

func logBanner(dir, cfgPath string) {
	log.Println("────────────────────────────────────────")
	log.Println("OnAir studio scope")
	log.Printf(" Studio folder : %s", dir)
	log.Printf(" Config file   : %s", cfgPath)
	log.Println("")
	log.Println(" This process hosts ONE show at a time.")
	log.Println(" The studio folder holds config and the call archive.")
	log.Println("────────────────────────────────────────")
}
