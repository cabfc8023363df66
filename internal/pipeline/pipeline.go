// Package pipeline runs the extraction: load, reassemble, parse HTTP,
// decrypt and write.
package pipeline

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"wstrace/internal/analysis"
	"wstrace/internal/artifacts"
	"wstrace/internal/behinder"
	"wstrace/internal/capture"
	"wstrace/internal/httpdemux"
	"wstrace/internal/models"
	"wstrace/internal/reassembly"
)

const progressEvery = 1000

// Options configure one run.
type Options struct {
	Input string
	// Key is used as given; nil means discover it from the traffic.
	Key     *behinder.Key
	Codecs  []behinder.Codec
	Workers int
	Writer  *artifacts.Writer

	// Stats receives the run counters; nil means a fresh set.
	Stats *analysis.RunStats

	Log      logrus.FieldLogger
	Observer Observer
}

// Result is what a completed run produced.
type Result struct {
	Key       behinder.Key
	Artifacts []models.Artifact
	Stats     *analysis.RunStats
}

// flowWork carries one flow through the stages. Each is owned by one
// worker at a time.
type flowWork struct {
	flow      *reassembly.Flow
	exchanges []httpdemux.Exchange
	artifacts []models.Artifact
}

type runner struct {
	opts     Options
	log      logrus.FieldLogger
	stats    *analysis.RunStats
	observer Observer

	packets   atomic.Int64
	flowsDone atomic.Int64
	written   atomic.Int64
	flows     int
}

// Run executes the pipeline. Only a capture read failure is returned as an
// error; every other failure is logged, counted and skipped.
func Run(ctx context.Context, loader capture.Loader, opts Options) (*Result, error) {
	if opts.Writer == nil {
		return nil, errors.New("no artifact writer")
	}
	if len(opts.Codecs) == 0 {
		all, err := behinder.Codecs()
		if err != nil {
			return nil, err
		}
		opts.Codecs = all
	}
	r := &runner{
		opts:     opts,
		log:      opts.Log,
		stats:    opts.Stats,
		observer: opts.Observer,
	}
	if r.stats == nil {
		r.stats = analysis.NewRunStats()
	}
	if r.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		r.log = l
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}

	work, err := r.load(ctx, loader)
	if err != nil {
		return nil, err
	}

	r.emit(StageDemuxing, "")
	r.forEach(work, r.demux)

	key, err := r.key(work)
	if err != nil {
		return nil, err
	}
	dec, err := behinder.NewDecryptor(key, opts.Codecs)
	if err != nil {
		return nil, err
	}

	r.flowsDone.Store(0)
	r.emit(StageDecrypting, "")
	r.forEach(work, func(w *flowWork) { r.decrypt(dec, w) })

	all := collect(work)
	r.emit(StageWriting, "")
	r.write(all)

	r.stats.Finish()
	r.emit(StageDone, "")
	return &Result{Key: key, Artifacts: all, Stats: r.stats}, nil
}

func (r *runner) emit(stage Stage, msg string) {
	r.observer.Observe(Event{
		Stage:     stage,
		Packets:   r.packets.Load(),
		Flows:     r.flows,
		FlowsDone: int(r.flowsDone.Load()),
		Artifacts: int(r.written.Load()),
		Warnings:  r.stats.Summary().Warnings,
		Message:   msg,
	})
}

func (r *runner) load(ctx context.Context, loader capture.Loader) ([]*flowWork, error) {
	r.emit(StageLoading, r.opts.Input)
	packets, err := loader.Load(ctx, r.opts.Input)
	if err != nil {
		return nil, err
	}

	asm := reassembly.New(r.log)
	for p, err := range packets {
		if err != nil {
			return nil, err
		}
		r.stats.ProcessPacket(p)
		asm.Add(p)
		if n := r.packets.Add(1); n%progressEvery == 0 {
			r.emit(StageLoading, "")
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, capture.NewReadError(r.opts.Input, errors.Wrap(err, "loading interrupted"))
	}
	r.log.WithFields(logrus.Fields{
		"packets": r.packets.Load(),
		"flows":   asm.Len(),
	}).Info("capture loaded")

	r.emit(StageReassembling, "")
	var work []*flowWork
	for _, f := range asm.Flows() {
		r.stats.AddFlow(f.Ordinal, f.Client, serverOf(f), f.Packets)
		if err := f.Err(); err != nil {
			r.stats.FlowFailed(f.Ordinal)
			r.warn(models.StreamReassemblyError, f.Ordinal, -1, "", err)
			continue
		}
		work = append(work, &flowWork{flow: f})
	}
	r.flows = len(work)
	return work, nil
}

func serverOf(f *reassembly.Flow) models.Endpoint {
	if f.ID.A == f.Client {
		return f.ID.B
	}
	return f.ID.A
}

// forEach runs fn over every flow, on a worker pool when more than one
// worker is configured.
func (r *runner) forEach(work []*flowWork, fn func(*flowWork)) {
	if r.opts.Workers <= 1 || len(work) <= 1 {
		for _, w := range work {
			fn(w)
		}
		return
	}
	pool := pond.NewPool(r.opts.Workers)
	for _, w := range work {
		pool.Submit(func() { fn(w) })
	}
	pool.StopAndWait()
}

func (r *runner) demux(w *flowWork) {
	f := w.flow
	d := httpdemux.New(f.ID, r.log)
	reqs, errs := d.Requests(f.Stream(models.ClientToServer))
	resps, rerrs := d.Responses(f.Stream(models.ServerToClient), reqs)
	for _, err := range append(errs, rerrs...) {
		side := ""
		var perr *httpdemux.ParseError
		if errors.As(err, &perr) {
			side = perr.Direction.Side()
		}
		r.warn(models.HttpParseError, f.Ordinal, -1, side, err)
	}
	w.exchanges = httpdemux.Pair(reqs, resps)
	r.stats.AddExchanges(f.Ordinal, len(w.exchanges))
}

// key returns the configured key or the best one found in the traffic.
func (r *runner) key(work []*flowWork) (behinder.Key, error) {
	if r.opts.Key != nil {
		return *r.opts.Key, nil
	}
	r.emit(StageKeyDiscovery, "")
	var bodies [][]byte
	for _, w := range work {
		for _, ex := range w.exchanges {
			for _, m := range []*httpdemux.Message{ex.Request, ex.Response} {
				if m != nil && len(m.Body) > 0 {
					bodies = append(bodies, m.Body)
				}
			}
		}
	}
	found := behinder.DiscoverKeys(bodies, r.opts.Codecs)
	if len(found) == 0 {
		r.warn(models.KeyNotFound, -1, -1, "",
			errors.Errorf("no key candidate decrypted any body, using the default key %s", behinder.DefaultKey))
		return behinder.ParseKey(behinder.DefaultKey)
	}
	r.log.WithFields(logrus.Fields{
		"key":        found[0].Key,
		"decrypted":  found[0].Score,
		"candidates": len(found),
	}).Info("key discovered")
	return behinder.ParseKey(found[0].Key)
}

func (r *runner) decrypt(dec *behinder.Decryptor, w *flowWork) {
	defer func() {
		r.flowsDone.Add(1)
		r.emit(StageDecrypting, "")
	}()
	ordinal := w.flow.Ordinal
	for _, ex := range w.exchanges {
		decrypted, failed := 0, 0
		for _, m := range []*httpdemux.Message{ex.Request, ex.Response} {
			if m == nil {
				continue
			}
			res, err := dec.Decrypt(m.Body)
			if errors.Is(err, behinder.ErrSkipped) {
				r.stats.Skipped()
				continue
			}
			if err != nil {
				failed++
				var derr *behinder.DecryptError
				if errors.As(err, &derr) {
					derr.Flow, derr.FlowID, derr.Exchange, derr.Side = ordinal, w.flow.ID, ex.Index, m.Direction
				}
				r.warn(models.DecryptError, ordinal, ex.Index, m.Direction.Side(), err)
				continue
			}
			decrypted++
			r.stats.Recovered(ordinal, res.Codec)
			w.artifacts = append(w.artifacts, models.Artifact{
				Flow:      ordinal,
				Exchange:  ex.Index,
				Side:      m.Direction,
				Kind:      res.Kind,
				Ext:       res.Ext,
				Data:      res.Data,
				Companion: res.Companion,
				Codec:     res.Codec,
				Order:     ex.Order(),
			})
		}
		r.stats.ExchangeDone(ordinal, decrypted, failed)
	}
	// The flow's buffers are no longer needed once its artifacts exist.
	w.flow, w.exchanges = nil, nil
}

// collect merges per-flow results into capture order.
func collect(work []*flowWork) []models.Artifact {
	var all []models.Artifact
	for _, w := range work {
		all = append(all, w.artifacts...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Flow != b.Flow {
			return a.Flow < b.Flow
		}
		if a.Exchange != b.Exchange {
			return a.Exchange < b.Exchange
		}
		return a.Side < b.Side
	})
	return all
}

func (r *runner) write(all []models.Artifact) {
	for i := range all {
		a := &all[i]
		paths, err := r.opts.Writer.Write(a)
		if err != nil {
			r.warn(models.IoWriteError, a.Flow, a.Exchange, a.Side.Side(), err)
		}
		if len(paths) > 0 {
			r.written.Add(1)
			r.stats.Written(analysis.ArtifactEntry{
				Name:  artifacts.Name(a),
				Kind:  a.Kind,
				Codec: a.Codec,
				Size:  len(a.Data),
				Order: a.Order,
			})
		}
	}
}

func (r *runner) warn(kind models.ErrorKind, flow, exchange int, side string, err error) {
	fields := logrus.Fields{"kind": string(kind)}
	if flow >= 0 {
		fields["flow"] = flow
	}
	if exchange >= 0 {
		fields["exchange"] = exchange
	}
	if side != "" {
		fields["side"] = side
	}
	r.log.WithFields(fields).Warn(err.Error())
	r.stats.Warn(analysis.Warning{
		Kind:     kind,
		Flow:     flow,
		Exchange: exchange,
		Side:     side,
		Message:  err.Error(),
	})
}
