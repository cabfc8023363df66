package analysis

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"wstrace/internal/models"
)

// IPStat holds the payload volume sent by one address.
type IPStat struct {
	IP    string
	Bytes int
}

// CodecStat counts the bodies one codec decrypted.
type CodecStat struct {
	Codec string
	Count int64
}

// Warning is one non-fatal failure recorded during a run.
type Warning struct {
	Kind     models.ErrorKind
	Flow     int // -1 when the failure concerns the whole run
	Exchange int // -1 when the failure is not tied to an exchange
	Side     string
	Message  string
}

// FlowSummary describes one reconstructed conversation.
type FlowSummary struct {
	Ordinal            int
	Client             models.Endpoint
	Server             models.Endpoint
	Service            string
	Packets            int
	Exchanges          int
	Recovered          int // decrypted bodies
	RecoveredExchanges int
	FailedExchanges    int
	Failed             bool
}

// Label is the human-readable description of the flow.
func (f FlowSummary) Label() string {
	return fmt.Sprintf("%s -> %s (%s)", f.Client, f.Server, f.Service)
}

// ArtifactEntry is one file written to the output directory.
type ArtifactEntry struct {
	Name  string
	Kind  models.Kind
	Codec string
	Size  int
	Order int64
}

// RunStats collects counters for one extraction run. It is safe for
// concurrent use.
type RunStats struct {
	mu      sync.Mutex
	started time.Time
	elapsed time.Duration

	packets      int64
	payloadBytes int64
	ipBytes      map[string]int

	exchanges    int
	exchangesOK  int
	exchangesBad int
	recovered    int
	skipped      int
	decryptFails int
	bytesWritten int64

	codecCounts map[string]int64
	flows       map[int]*FlowSummary
	warnings    []Warning
	artifacts   []ArtifactEntry
}

func NewRunStats() *RunStats {
	return &RunStats{
		started:     time.Now(),
		ipBytes:     make(map[string]int),
		codecCounts: make(map[string]int64),
		flows:       make(map[int]*FlowSummary),
	}
}

// ProcessPacket accounts one loaded packet.
func (s *RunStats) ProcessPacket(pkt models.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packets++
	s.payloadBytes += int64(len(pkt.Payload))
	if pkt.Src.Addr != "" {
		s.ipBytes[pkt.Src.Addr] += len(pkt.Payload)
	}
}

// AddFlow registers a reconstructed flow.
func (s *RunStats) AddFlow(ordinal int, client, server models.Endpoint, packets int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[ordinal] = &FlowSummary{
		Ordinal: ordinal,
		Client:  client,
		Server:  server,
		Service: GetServiceName(server.Port),
		Packets: packets,
	}
}

// FlowFailed marks a flow excluded from extraction.
func (s *RunStats) FlowFailed(ordinal int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[ordinal]; ok {
		f.Failed = true
	}
}

// AddExchanges counts exchanges paired on a flow.
func (s *RunStats) AddExchanges(ordinal, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges += n
	if f, ok := s.flows[ordinal]; ok {
		f.Exchanges += n
	}
}

// Recovered counts one decrypted exchange side.
func (s *RunStats) Recovered(ordinal int, codec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovered++
	s.codecCounts[codec]++
	if f, ok := s.flows[ordinal]; ok {
		f.Recovered++
	}
}

// ExchangeDone records how the sides of one exchange fared. The exchange
// failed when any side failed to decrypt and was recovered when at least one
// side decrypted and none failed. Exchanges with only skipped bodies count as
// neither.
func (s *RunStats) ExchangeDone(ordinal, decrypted, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flows[ordinal]
	switch {
	case failed > 0:
		s.exchangesBad++
		if f != nil {
			f.FailedExchanges++
		}
	case decrypted > 0:
		s.exchangesOK++
		if f != nil {
			f.RecoveredExchanges++
		}
	}
}

// Skipped counts a body that held no ciphertext.
func (s *RunStats) Skipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

// Warn records a non-fatal failure.
func (s *RunStats) Warn(w Warning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.Kind == models.DecryptError {
		s.decryptFails++
	}
	s.warnings = append(s.warnings, w)
}

// Written records an artifact file.
func (s *RunStats) Written(e ArtifactEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesWritten += int64(e.Size)
	s.artifacts = append(s.artifacts, e)
}

// Finish stops the run clock.
func (s *RunStats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = time.Since(s.started)
}

// Summary is a point-in-time copy of the counters.
type Summary struct {
	Started            time.Time
	Elapsed            time.Duration
	Packets            int64
	PayloadBytes       int64
	Flows              int
	FailedFlows        int
	Exchanges          int
	RecoveredExchanges int
	FailedExchanges    int
	Recovered          int
	Skipped            int
	DecryptFails       int
	Artifacts          int
	BytesWritten       int64
	Warnings           int
}

func (s *RunStats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := 0
	for _, f := range s.flows {
		if f.Failed {
			failed++
		}
	}
	return Summary{
		Started:            s.started,
		Elapsed:            s.elapsed,
		Packets:            s.packets,
		PayloadBytes:       s.payloadBytes,
		Flows:              len(s.flows),
		FailedFlows:        failed,
		Exchanges:          s.exchanges,
		RecoveredExchanges: s.exchangesOK,
		FailedExchanges:    s.exchangesBad,
		Recovered:          s.recovered,
		Skipped:            s.skipped,
		DecryptFails:       s.decryptFails,
		Artifacts:          len(s.artifacts),
		BytesWritten:       s.bytesWritten,
		Warnings:           len(s.warnings),
	}
}

// GetTopTalkers returns the top N addresses by payload volume.
func (s *RunStats) GetTopTalkers(limit int) []IPStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]IPStat, 0, len(s.ipBytes))
	for ip, bytes := range s.ipBytes {
		stats = append(stats, IPStat{IP: ip, Bytes: bytes})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Bytes != stats[j].Bytes {
			return stats[i].Bytes > stats[j].Bytes
		}
		return stats[i].IP < stats[j].IP
	})
	if len(stats) > limit {
		return stats[:limit]
	}
	return stats
}

// GetCodecStats returns per-codec success counts, most used first.
func (s *RunStats) GetCodecStats() []CodecStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]CodecStat, 0, len(s.codecCounts))
	for codec, count := range s.codecCounts {
		stats = append(stats, CodecStat{Codec: codec, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Codec < stats[j].Codec
	})
	return stats
}

// GetFlows returns the flows in first-seen order.
func (s *RunStats) GetFlows() []FlowSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FlowSummary, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// GetWarnings returns a copy of the recorded warnings.
func (s *RunStats) GetWarnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Warning, len(s.warnings))
	copy(result, s.warnings)
	return result
}

// GetArtifacts returns the written artifacts in write order.
func (s *RunStats) GetArtifacts() []ArtifactEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]ArtifactEntry, len(s.artifacts))
	copy(result, s.artifacts)
	return result
}
