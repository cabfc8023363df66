package analysis

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wstrace/internal/models"
)

func TestRunStatsConcurrentUpdates(t *testing.T) {
	s := NewRunStats()
	client := models.Endpoint{Addr: "10.0.0.5", Port: 50000}
	server := models.Endpoint{Addr: "10.0.0.1", Port: 8080}
	s.AddFlow(0, client, server, 12)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Recovered(0, "aes-ecb")
			s.ProcessPacket(models.Packet{Src: client, Payload: []byte("abcd")})
		}()
	}
	wg.Wait()

	s.AddExchanges(0, 25)
	s.Warn(Warning{Kind: models.DecryptError, Flow: 0, Exchange: 3, Side: "resp", Message: "bad"})
	s.Warn(Warning{Kind: models.HttpParseError, Flow: 0, Exchange: -1, Message: "junk"})
	s.Skipped()
	s.Written(ArtifactEntry{Name: "000-0000-req.txt", Size: 10})
	s.Finish()

	sum := s.Summary()
	assert.Equal(t, int64(50), sum.Packets)
	assert.Equal(t, int64(200), sum.PayloadBytes)
	assert.Equal(t, 50, sum.Recovered)
	assert.Equal(t, 25, sum.Exchanges)
	assert.Equal(t, 1, sum.DecryptFails)
	assert.Equal(t, 2, sum.Warnings)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, int64(10), sum.BytesWritten)

	codecs := s.GetCodecStats()
	require.Len(t, codecs, 1)
	assert.Equal(t, int64(50), codecs[0].Count)

	flows := s.GetFlows()
	require.Len(t, flows, 1)
	assert.Equal(t, "10.0.0.5:50000 -> 10.0.0.1:8080 (HTTP-Alt)", flows[0].Label())
	assert.Equal(t, 50, flows[0].Recovered)

	top := s.GetTopTalkers(5)
	require.Len(t, top, 1)
	assert.Equal(t, "10.0.0.5", top[0].IP)
}

func TestExchangeOutcomes(t *testing.T) {
	s := NewRunStats()
	s.AddFlow(0, models.Endpoint{}, models.Endpoint{Port: 80}, 6)
	s.AddExchanges(0, 4)
	s.ExchangeDone(0, 2, 0)
	s.ExchangeDone(0, 1, 1)
	s.ExchangeDone(0, 0, 0)
	s.ExchangeDone(0, 1, 0)

	sum := s.Summary()
	assert.Equal(t, 4, sum.Exchanges)
	assert.Equal(t, 2, sum.RecoveredExchanges)
	assert.Equal(t, 1, sum.FailedExchanges)

	f := s.GetFlows()[0]
	assert.Equal(t, 2, f.RecoveredExchanges)
	assert.Equal(t, 1, f.FailedExchanges)
}

func TestFlowFailed(t *testing.T) {
	s := NewRunStats()
	s.AddFlow(0, models.Endpoint{}, models.Endpoint{Port: 80}, 1)
	s.AddFlow(1, models.Endpoint{}, models.Endpoint{Port: 4444}, 1)
	s.FlowFailed(1)

	sum := s.Summary()
	assert.Equal(t, 2, sum.Flows)
	assert.Equal(t, 1, sum.FailedFlows)
	assert.Equal(t, "4444", s.GetFlows()[1].Service)
}
