package telemetry

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/stats"
)

// InterceptorStats is a Telemetry backed by the pion stats interceptor.
// Register Factory() in the interceptor.Registry of the peer connection that
// carries the tracks; attached spaces are then resolved by SSRC.
type InterceptorStats struct {
	*Registry

	factory *stats.InterceptorFactory

	mu     sync.RWMutex
	getter stats.Getter
}

// NewInterceptorStats creates the stats interceptor factory and the registry
// it feeds.
func NewInterceptorStats() (*InterceptorStats, error) {
	factory, err := stats.NewInterceptor()
	if err != nil {
		return nil, err
	}

	s := &InterceptorStats{Registry: NewRegistry(), factory: factory}
	factory.OnNewPeerConnection(func(_ string, g stats.Getter) {
		s.SetGetter(g)
	})
	return s, nil
}

// Factory returns the interceptor factory to add to an interceptor.Registry.
func (s *InterceptorStats) Factory() interceptor.Factory {
	return s.factory
}

// SetGetter replaces the stats getter. It is called automatically when the
// interceptor is bound to a peer connection.
func (s *InterceptorStats) SetGetter(g stats.Getter) {
	s.mu.Lock()
	s.getter = g
	s.mu.Unlock()
}

// TransportStats implements Source.
func (s *InterceptorStats) TransportStats(handle uint64) (Transport, bool) {
	space, ok := s.Space(handle)
	if !ok || space.SSRC == 0 {
		return Transport{}, false
	}

	s.mu.RLock()
	g := s.getter
	s.mu.RUnlock()
	if g == nil {
		return Transport{}, false
	}

	st := g.Get(space.SSRC)
	if st == nil {
		return Transport{}, false
	}

	return Transport{
		PacketsSent:     st.OutboundRTPStreamStats.PacketsSent,
		BytesSent:       st.OutboundRTPStreamStats.BytesSent,
		PacketsReceived: st.InboundRTPStreamStats.PacketsReceived,
		BytesReceived:   st.InboundRTPStreamStats.BytesReceived,
		PacketsLost:     st.InboundRTPStreamStats.PacketsLost,
		Jitter:          st.InboundRTPStreamStats.Jitter,
		NACKCount:       st.OutboundRTPStreamStats.NACKCount,
		PLICount:        st.OutboundRTPStreamStats.PLICount,
	}, true
}
