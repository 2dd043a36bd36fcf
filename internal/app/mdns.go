package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_triplog._tcp"
	mdnsDomain      = "local."
	mdnsMaxLabel    = 63
)

// startMDNS advertises the server so trackers on the LAN can find the broker.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "triplog"
	}

	instance := mdnsInstance(fmt.Sprintf("Triplog Tracker Server (%s)", hostname))
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, a.mdnsTXT(hostname), nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func (a *App) mdnsTXT(hostname string) []string {
	host := mdnsHost(hostname)
	if !strings.Contains(host, ".") {
		host += ".local"
	}

	txt := []string{
		fmt.Sprintf("http_port=%d", a.cfg.HTTPPort),
		fmt.Sprintf("fix_topic=%s", a.cfg.MQTTFixTopic),
		fmt.Sprintf("host=%s", host),
	}
	if a.broker != nil {
		txt = append(txt, fmt.Sprintf("mqtt_port=%d", a.advertisedPort()))
	} else {
		txt = append(txt, "mqtt_broker="+a.cfg.MQTTBrokerURL)
	}
	return txt
}

func mdnsInstance(name string) string {
	cleaned := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(strings.TrimSpace(name))
	if cleaned == "" {
		cleaned = "Triplog Tracker Server"
	}
	return truncateRunes(cleaned, mdnsMaxLabel)
}

func mdnsHost(name string) string {
	cleaned := strings.TrimSpace(strings.ToLower(name))
	cleaned = strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "").Replace(cleaned)
	if cleaned == "" {
		cleaned = "triplog"
	}
	return truncateRunes(cleaned, mdnsMaxLabel)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
