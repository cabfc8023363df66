package pipeline

// Stage is a phase of a run.
type Stage int

const (
	StageLoading Stage = iota
	StageReassembling
	StageDemuxing
	StageKeyDiscovery
	StageDecrypting
	StageWriting
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageLoading:
		return "loading"
	case StageReassembling:
		return "reassembling"
	case StageDemuxing:
		return "parsing HTTP"
	case StageKeyDiscovery:
		return "discovering key"
	case StageDecrypting:
		return "decrypting"
	case StageWriting:
		return "writing"
	default:
		return "done"
	}
}

// Event reports progress. Counters are cumulative for the run.
type Event struct {
	Stage     Stage
	Packets   int64
	Flows     int
	FlowsDone int
	Artifacts int
	Warnings  int
	Message   string
}

// Observer receives progress events. Observe may be called from several
// goroutines.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
