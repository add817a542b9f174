// Package ice assembles the STUN/TURN server list shared by every peer
// connection in the process.
package ice

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/gema-platform/live-classroom/config"
)

// Public STUN endpoints used when no STUN_SERVERS value is supplied.
var fallbackSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
}

// Resolver computes the ICE server list once and serves copies of it for the
// rest of the process lifetime.
type Resolver struct {
	cfg  config.ICEConfig
	log  *logrus.Entry
	once sync.Once
	list []webrtc.ICEServer
}

func NewResolver(cfg config.ICEConfig, log *logrus.Entry) *Resolver {
	return &Resolver{cfg: cfg, log: log}
}

// Servers returns the resolved ICE server list. The returned slice and its
// entries are copies; callers may mutate them freely.
func (r *Resolver) Servers() []webrtc.ICEServer {
	r.once.Do(func() {
		r.list = r.resolve()
	})

	out := make([]webrtc.ICEServer, len(r.list))
	for i, s := range r.list {
		out[i] = s
		out[i].URLs = append([]string(nil), s.URLs...)
	}
	return out
}

func (r *Resolver) resolve() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: r.stunURLs()}}

	// TURN is all-or-nothing: partial credentials would produce a server
	// entry the ICE agent rejects, so omit it entirely.
	url := strings.TrimSpace(r.cfg.TURNURL)
	user := strings.TrimSpace(r.cfg.TURNUsername)
	pass := strings.TrimSpace(r.cfg.TURNPassword)
	switch {
	case url != "" && user != "" && pass != "":
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{url},
			Username:   user,
			Credential: pass,
		})
	case url != "" || user != "" || pass != "":
		r.log.Warn("incomplete TURN configuration, skipping TURN")
	}

	return servers
}

func (r *Resolver) stunURLs() []string {
	raw := strings.TrimSpace(r.cfg.STUNServers)
	if raw == "" {
		return append([]string(nil), fallbackSTUN...)
	}

	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		// Not a JSON array; treat as a comma-separated list.
		urls = strings.Split(raw, ",")
	}

	cleaned := urls[:0]
	for _, u := range urls {
		u = strings.Trim(strings.TrimSpace(u), `"'`)
		if u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		r.log.Warn("STUN_SERVERS is set but empty after parsing, using fallback")
		return append([]string(nil), fallbackSTUN...)
	}
	return cleaned
}
