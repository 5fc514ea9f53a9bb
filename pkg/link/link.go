// Package link joins a transmit-side shared channel encoder and a
// receive-side decoder through an AWGN channel. Datagrams arriving on a UDP
// socket are carried as transport blocks; blocks that survive the channel are
// echoed back to the sender.
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/nr-codec/pkg/capture"
	"github.com/dbehnke/nr-codec/pkg/channel"
	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/dbehnke/nr-codec/pkg/segment"
	"github.com/dbehnke/nr-codec/pkg/tbs"
)

const (
	slotsPerFrame = 20
	framesPerHFN  = 1024
	queueDepth    = 64
)

var ErrNoTransportBlock = errors.New("link: allocation carries no transport block")

// Config describes the loopback link.
type Config struct {
	Listen    string
	RNTI      uint16
	Alloc     tbs.Allocation
	LBRMBytes int
	SNRdB     float64
	LLRScale  float64
	MaxRounds int
	Processes int
	Seed      uint64
	// Wait bounds how long the MAC waits for one indication.
	Wait time.Duration
}

// Counters are the link totals since start.
type Counters struct {
	Datagrams uint64 `json:"datagrams"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
	Lost      uint64 `json:"lost"`
	Attempts  uint64 `json:"attempts"`
}

type datagram struct {
	data []byte
	from *net.UDPAddr
}

// Link is one UE-to-gNB loopback.
type Link struct {
	cfg  Config
	log  *logger.Logger
	desc sch.Descriptor
	g    int

	tx       *harq.Entity
	rx       *harq.Entity
	enc      *sch.Encoder
	dec      *sch.Decoder
	ch       *channel.AWGN
	captures *capture.Writer

	inds chan harq.Indication
	llr  []fixedpoint.LLR

	// MAC state, owned by whoever holds mu
	mu    sync.Mutex
	pid   int
	ndi   []int
	frame int
	slot  int

	conn    *net.UDPConn
	started chan struct{}
	queue   chan datagram

	datagrams atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	lost      atomic.Uint64
	attempts  atomic.Uint64
}

// New builds a link. Every decode indication is passed to sink after the
// link itself has seen it.
func New(cfg Config, codec ldpc.Codec, dcfg sch.Config, sink harq.Sink, log *logger.Logger) (*Link, error) {
	size := cfg.Alloc.Size()
	if size <= 0 {
		return nil, ErrNoTransportBlock
	}
	if cfg.MaxRounds <= 0 || cfg.MaxRounds > harq.MaxRounds {
		cfg.MaxRounds = harq.MaxRounds
	}
	if cfg.Processes <= 0 {
		cfg.Processes = 1
	}
	if cfg.LLRScale <= 0 {
		cfg.LLRScale = 4
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}

	l := &Link{
		cfg: cfg,
		log: log.WithComponent("link"),
		desc: sch.Descriptor{
			TBSize:     size / 8,
			RBs:        cfg.Alloc.RBs,
			Qm:         cfg.Alloc.Qm,
			Layers:     cfg.Alloc.Layers,
			TargetRate: cfg.Alloc.TargetRate,
			LBRMBytes:  cfg.LBRMBytes,
		},
		g:       cfg.Alloc.CodedBits(),
		ch:      channel.NewAWGN(cfg.SNRdB, cfg.LLRScale, cfg.Seed),
		inds:    make(chan harq.Indication, cfg.Processes),
		ndi:     make([]int, cfg.Processes),
		started: make(chan struct{}),
		queue:   make(chan datagram, queueDepth),
	}
	l.llr = make([]fixedpoint.LLR, l.g)

	capacity := segment.Capacity(cfg.Alloc.RBs, cfg.Alloc.Layers)
	l.tx = harq.NewEntity(cfg.RNTI, harq.Transmit, cfg.Processes, capacity)
	l.rx = harq.NewEntity(cfg.RNTI, harq.Receive, cfg.Processes, capacity)
	l.enc = sch.NewEncoder(codec, l.tx, log)
	l.dec = sch.NewDecoder(dcfg, codec, l.rx, harq.Fanout{harq.SinkFunc(l.indicate), sink}, log)
	return l, nil
}

// SetObserver installs o on both the encoder and the decoder.
func (l *Link) SetObserver(o sch.Observer) {
	l.enc.SetObserver(o)
	l.dec.SetObserver(o)
}

// SetCapture stores the soft input of attempts through w.
func (l *Link) SetCapture(w *capture.Writer) {
	l.captures = w
}

// TBSize returns the transport block size in bytes.
func (l *Link) TBSize() int {
	return l.desc.TBSize
}

// Counters returns a snapshot of the link totals.
func (l *Link) Counters() Counters {
	return Counters{
		Datagrams: l.datagrams.Load(),
		Dropped:   l.dropped.Load(),
		Delivered: l.delivered.Load(),
		Lost:      l.lost.Load(),
		Attempts:  l.attempts.Load(),
	}
}

func (l *Link) indicate(ind harq.Indication) {
	select {
	case l.inds <- ind:
	default:
		l.log.Warn("Dropping unexpected indication",
			logger.Int("pid", ind.PID),
			logger.Int("frame", ind.Frame),
			logger.Int("slot", ind.Slot))
	}
}

// Transmit carries payload as one transport block, padded or truncated to
// the block size, retransmitting until ACK or the round limit. It returns
// the last indication and the decoded block on success.
func (l *Link) Transmit(ctx context.Context, payload []byte) (harq.Indication, []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tb := make([]byte, l.desc.TBSize)
	copy(tb, payload)

	pid := l.pid
	l.pid = (l.pid + 1) % l.cfg.Processes
	l.ndi[pid] ^= 1

	d := l.desc
	d.NDI = l.ndi[pid]

	var ind harq.Indication
	for round := 0; round < l.cfg.MaxRounds; round++ {
		d.RV = harq.RVForRound(round)
		frame, slot := l.tick()

		bits, err := l.enc.Encode(pid, tb, d, l.g)
		if err != nil {
			return ind, nil, fmt.Errorf("encode: %w", err)
		}
		if err := l.ch.Transmit(bits, l.llr); err != nil {
			return ind, nil, err
		}
		if err := l.dec.Decode(pid, l.llr, d, frame, slot, l.g); err != nil {
			return ind, nil, fmt.Errorf("decode: %w", err)
		}
		l.attempts.Add(1)

		ind, err = l.await(ctx, pid, frame, slot)
		if err != nil {
			return ind, nil, err
		}
		l.save(ind, d)

		if err := l.enc.Complete(pid, ind.OK); err != nil {
			return ind, nil, err
		}
		if ind.OK {
			l.delivered.Add(1)
			return ind, ind.Payload, nil
		}
	}
	l.lost.Add(1)
	l.log.Debug("Transport block lost",
		logger.Int("pid", pid),
		logger.Int("rounds", l.cfg.MaxRounds))
	return ind, nil, nil
}

func (l *Link) tick() (int, int) {
	frame, slot := l.frame, l.slot
	l.slot++
	if l.slot == slotsPerFrame {
		l.slot = 0
		l.frame = (l.frame + 1) % framesPerHFN
	}
	return frame, slot
}

// await returns the indication of the attempt on pid at frame/slot.
// Indications left over from abandoned attempts are discarded.
func (l *Link) await(ctx context.Context, pid, frame, slot int) (harq.Indication, error) {
	timer := time.NewTimer(l.cfg.Wait)
	defer timer.Stop()
	for {
		select {
		case ind := <-l.inds:
			if ind.PID == pid && ind.Frame == frame && ind.Slot == slot {
				return ind, nil
			}
			l.log.Debug("Discarding stale indication",
				logger.Int("pid", ind.PID),
				logger.Int("frame", ind.Frame),
				logger.Int("slot", ind.Slot))
		case <-timer.C:
			return harq.Indication{}, errors.New("link: no indication")
		case <-ctx.Done():
			return harq.Indication{}, ctx.Err()
		}
	}
}

func (l *Link) save(ind harq.Indication, d sch.Descriptor) {
	if l.captures == nil {
		return
	}
	rec := &capture.Record{
		RNTI:       ind.RNTI,
		PID:        ind.PID,
		Frame:      ind.Frame,
		Slot:       ind.Slot,
		Round:      ind.Round,
		G:          l.g,
		OK:         ind.OK,
		Descriptor: d,
		LLR:        l.llr,
	}
	if _, err := l.captures.Save(rec); err != nil {
		l.log.Warn("Failed to save capture", logger.Error(err))
	}
}

// Start listens on cfg.Listen and carries datagrams until ctx is done.
func (l *Link) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", l.cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	l.conn = conn
	close(l.started)
	defer func() {
		_ = l.conn.Close()
	}()

	l.log.Info("Link started",
		logger.String("addr", conn.LocalAddr().String()),
		logger.Int("tbs", l.desc.TBSize),
		logger.Int("g", l.g),
		logger.Float64("snr_db", l.cfg.SNRdB))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 2)
	go func() {
		errChan <- l.receiveLoop(ctx)
	}()
	go func() {
		errChan <- l.macLoop(ctx)
	}()

	// Both loops must be gone before the caller may Close the link
	err = <-errChan
	cancel()
	<-errChan
	return err
}

// Close stops the decoder and releases the HARQ buffers. Call it after
// Start has returned.
func (l *Link) Close() {
	l.dec.Close()
	l.tx.Close()
	l.rx.Close()
}

// WaitStarted blocks until the UDP socket is bound or ctx is done.
func (l *Link) WaitStarted(ctx context.Context) error {
	select {
	case <-l.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound UDP address. Call it after WaitStarted.
func (l *Link) Addr() (*net.UDPAddr, error) {
	if l.conn == nil {
		return nil, fmt.Errorf("link not started")
	}
	udpAddr, ok := l.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("not a UDP address")
	}
	return udpAddr, nil
}

func (l *Link) receiveLoop(ctx context.Context) error {
	buffer := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			l.log.Warn("Failed to set read deadline", logger.Error(err))
			continue
		}
		n, addr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			l.log.Error("Failed to read from UDP", logger.Error(err))
			continue
		}

		l.datagrams.Add(1)
		dg := datagram{data: append([]byte(nil), buffer[:n]...), from: addr}
		select {
		case l.queue <- dg:
		default:
			l.dropped.Add(1)
			l.log.Warn("Queue full, dropping datagram",
				logger.String("from", addr.String()),
				logger.Int("bytes", n))
		}
	}
}

func (l *Link) macLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case dg := <-l.queue:
			if len(dg.data) > l.desc.TBSize {
				l.log.Debug("Truncating datagram",
					logger.Int("bytes", len(dg.data)),
					logger.Int("tbs", l.desc.TBSize))
			}
			_, out, err := l.Transmit(ctx, dg.data)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.log.Error("Transmit failed", logger.Error(err))
				continue
			}
			if out == nil {
				continue
			}
			n := min(len(dg.data), len(out))
			if _, err := l.conn.WriteToUDP(out[:n], dg.from); err != nil {
				l.log.Warn("Failed to echo block",
					logger.String("to", dg.from.String()),
					logger.Error(err))
			}
		}
	}
}
