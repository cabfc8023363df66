package tshark

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"iter"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"wstrace/internal/capture"
	"wstrace/internal/models"
)

// maxLine bounds one EK line; a full-size jumbo segment hex-encodes well below it.
const maxLine = 64 << 20

// Loader runs tshark over a capture file and streams its EK output.
type Loader struct {
	Binary string
	Log    logrus.FieldLogger
}

func NewLoader(binary string, log logrus.FieldLogger) *Loader {
	if binary == "" {
		binary = "tshark"
	}
	return &Loader{Binary: binary, Log: log}
}

// Args builds the tshark command line.
// -n: disable name resolution
// -T ek: output in Elasticsearch JSON format
// -Y tcp: only TCP frames
func Args(path string) []string {
	args := []string{"-r", path, "-n", "-T", "ek", "-Y", "tcp"}
	for _, f := range fields {
		args = append(args, "-e", f)
	}
	return args
}

func (l *Loader) Load(ctx context.Context, path string) (iter.Seq2[models.Packet, error], error) {
	if err := capture.CheckReadable(path); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(l.Binary); err != nil {
		return nil, capture.NewReadError(path, errors.Wrapf(err, "dissector %q not available", l.Binary))
	}

	return func(yield func(models.Packet, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := exec.CommandContext(ctx, l.Binary, Args(path)...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(models.Packet{}, capture.NewReadError(path, errors.Wrap(err, "failed to get stdout pipe")))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(models.Packet{}, capture.NewReadError(path, errors.Wrap(err, "failed to start tshark")))
			return
		}
		if l.Log != nil {
			l.Log.WithField("cmd", cmd.String()).Debug("tshark started")
		}

		waited := false
		defer func() {
			if !waited {
				cancel()
				_ = cmd.Wait()
			}
		}()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
		orient := capture.NewOrienter()

		for scanner.Scan() {
			p, ok, err := DecodeLine(scanner.Bytes())
			if err != nil {
				yield(models.Packet{}, capture.NewReadError(path, err))
				return
			}
			if !ok {
				continue
			}
			orient.Orient(&p)
			if !yield(p, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(models.Packet{}, capture.NewReadError(path, errors.Wrap(err, "read tshark output")))
			return
		}

		waited = true
		if err := cmd.Wait(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			yield(models.Packet{}, capture.NewReadError(path, errors.Wrapf(err, "tshark failed: %s", msg)))
		}
	}, nil
}

// DecodeLine converts one EK line. Index lines and frames without a TCP
// header are reported as !ok; a packet line that cannot be interpreted is an
// error.
func DecodeLine(line []byte) (models.Packet, bool, error) {
	line = bytes.TrimSpace(line)
	// Tshark -T ek outputs an index line before each packet; only "layers" lines carry data.
	if len(line) == 0 || !bytes.Contains(line, []byte(`"layers"`)) {
		return models.Packet{}, false, nil
	}

	var ek EkPacket
	if err := json.Unmarshal(line, &ek); err != nil {
		return models.Packet{}, false, errors.Wrap(err, "malformed tshark line")
	}
	return convertToModel(ek)
}

func convertToModel(ek EkPacket) (models.Packet, bool, error) {
	l := ek.Layers
	if len(l.TCPSrcPort) == 0 && len(l.TCPDstPort) == 0 {
		return models.Packet{}, false, nil
	}

	var p models.Packet
	var err error

	if p.Index, err = strconv.ParseInt(l.FrameNumber.first(), 10, 64); err != nil {
		return p, false, errors.Wrap(err, "frame.number")
	}
	if ts := l.FrameTime.first(); ts != "" {
		if sec, err := strconv.ParseFloat(ts, 64); err == nil {
			whole, frac := math.Modf(sec)
			p.Timestamp = time.Unix(int64(whole), int64(frac*1e9)).UTC()
		}
	}

	p.Src.Addr, p.Dst.Addr = l.IPSrc.first(), l.IPDst.first()
	if p.Src.Addr == "" {
		p.Src.Addr, p.Dst.Addr = l.IPv6Src.first(), l.IPv6Dst.first()
	}
	if p.Src.Addr == "" || p.Dst.Addr == "" {
		return p, false, errors.Errorf("frame %d: missing network addresses", p.Index)
	}

	if p.Src.Port, err = strconv.Atoi(l.TCPSrcPort.first()); err != nil {
		return p, false, errors.Wrapf(err, "frame %d: tcp.srcport", p.Index)
	}
	if p.Dst.Port, err = strconv.Atoi(l.TCPDstPort.first()); err != nil {
		return p, false, errors.Wrapf(err, "frame %d: tcp.dstport", p.Index)
	}

	if raw := l.TCPSeqRaw.first(); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return p, false, errors.Wrapf(err, "frame %d: tcp.seq_raw", p.Index)
		}
		p.Seq, p.HasSeq = uint32(seq), true
	}

	p.SYN = flag(l.TCPSyn.first()) && !flag(l.TCPAck.first())

	if hexPayload := l.TCPPayload.first(); hexPayload != "" {
		p.Payload, err = hex.DecodeString(strings.ReplaceAll(hexPayload, ":", ""))
		if err != nil {
			return p, false, errors.Wrapf(err, "frame %d: tcp.payload", p.Index)
		}
	}
	return p, true, nil
}

func flag(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true":
		return true
	}
	return false
}
