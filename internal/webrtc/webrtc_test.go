package webrtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfiguration(t *testing.T) {
	cfg := Config{ICEServers: []string{"stun:stun.example.org:3478", ""}}
	c := cfg.configuration()
	require.Len(t, c.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, c.ICEServers[0].URLs)

	assert.Empty(t, Config{}.configuration().ICEServers)
}

func TestSessionOffer(t *testing.T) {
	s, err := NewSession(Config{}, nil, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Forward(nil, nil), errNoTrack)

	require.NoError(t, s.AddH264Track())
	sdp, err := s.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, sdp, "H264")

	stop := make(chan struct{})
	close(stop)
	assert.NoError(t, s.Forward(make(chan []byte), stop))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
