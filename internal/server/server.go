// Package server wires the packet source (a live TZSP listener or a
// pre-recorded pcap replay) to the flow cache core and its output sinks,
// and drives the cooperative sweep/stats loop on a single goroutine per
// §5's single-threaded scheduling model.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pavelkim/flowcached/internal/decoder"
	"github.com/pavelkim/flowcached/internal/flowcache"
	"github.com/pavelkim/flowcached/internal/logger"
	"github.com/pavelkim/flowcached/internal/pcapio"
	"github.com/pavelkim/flowcached/internal/stats"
	"github.com/pavelkim/flowcached/internal/tzsp"
	"github.com/pavelkim/flowcached/internal/upload"
)

// Server reads raw frames from its configured source, aggregates them
// into flow records via the flow cache, and periodically sweeps for
// expired flows and reports statistics.
type Server struct {
	listenAddr string
	bufferSize int
	pcapFile   string

	conn          *net.UDPConn
	pcapReader    *pcapio.Reader
	tzspDecoder   *tzsp.Decoder
	packetDecoder *decoder.Decoder
	pcapWriter    *pcapio.Writer
	cache         *flowcache.Cache
	reporter      *stats.Reporter
	uploader      *upload.Uploader

	sweepInterval time.Duration
	logger        *logger.Logger

	packetsReceived uint64
	packetsDecoded  uint64
}

// Config contains server wiring configuration. The packet source is a
// live TZSP listener unless PCAPFile is set, in which case it replays
// that capture file instead.
type Config struct {
	ListenAddr string
	BufferSize int
	PCAPFile   string

	Cache         *flowcache.Cache
	PCAPWriter    *pcapio.Writer
	Reporter      *stats.Reporter
	Uploader      *upload.Uploader
	SweepInterval time.Duration
	Logger        *logger.Logger
}

// NewServer creates a new server from cfg.
func NewServer(cfg *Config) *Server {
	return &Server{
		listenAddr:    cfg.ListenAddr,
		bufferSize:    cfg.BufferSize,
		pcapFile:      cfg.PCAPFile,
		tzspDecoder:   tzsp.NewDecoder(),
		packetDecoder: decoder.NewDecoder(),
		pcapWriter:    cfg.PCAPWriter,
		cache:         cfg.Cache,
		reporter:      cfg.Reporter,
		uploader:      cfg.Uploader,
		sweepInterval: cfg.SweepInterval,
		logger:        cfg.Logger,
	}
}

// Start runs the server until ctx is cancelled. Depending on the
// configured mode it either listens for live TZSP-encapsulated traffic
// or replays a pre-recorded pcap file.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("========================================")
	s.logger.Info("starting flow cache pipeline")

	if s.pcapFile != "" {
		return s.runPCAPReplay(ctx)
	}
	return s.runTZSPListener(ctx)
}

func (s *Server) runTZSPListener(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn
	s.logger.Info("listening for TZSP packets", "addr", addr.String(), "buffer_size", s.bufferSize)

	// The sweep/stats tick and packet ingest both mutate the flow cache,
	// which is not safe for concurrent use (§5's single-threaded
	// cooperative model). Rather than run the sweeper on its own
	// goroutine, the receive loop's read deadline doubles as the tick:
	// every timeout (or successfully read packet) is an opportunity to
	// check whether it's time to sweep, all on this one goroutine.
	nextSweep := time.Now().Add(s.sweepInterval)

	buf := make([]byte, s.bufferSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context cancelled, stopping receiver loop")
			return s.finalDrain()
		default:
			s.conn.SetReadDeadline(time.Now().Add(1 * time.Second))

			n, remoteAddr, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					nextSweep = s.maybeSweep(nextSweep)
					continue
				}
				s.logger.Error("failed to read UDP packet", "error", err)
				continue
			}

			s.packetsReceived++
			if err := s.processTZSPFrame(buf[:n], remoteAddr.String()); err != nil {
				s.logger.Debug("failed to process packet", "error", err, "source", remoteAddr.String())
			}

			nextSweep = s.maybeSweep(nextSweep)
		}
	}
}

func (s *Server) runPCAPReplay(ctx context.Context) error {
	reader, err := pcapio.NewReader(s.pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open pcap file: %w", err)
	}
	s.pcapReader = reader
	defer reader.Close()

	s.logger.Info("replaying pcap file", "file", s.pcapFile)

	for {
		select {
		case <-ctx.Done():
			return s.finalDrain()
		default:
		}

		data, ts, err := reader.ReadPacket()
		if err != nil {
			s.logger.Info("pcap replay finished")
			return s.finalDrain()
		}

		s.packetsReceived++
		s.ingestFrame(data, ts)

		s.maybeSweepAndReport(ts)
	}
}

// Stop closes the active packet source.
func (s *Server) Stop() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	if s.pcapReader != nil {
		return s.pcapReader.Close()
	}
	return nil
}

// processTZSPFrame decapsulates a received TZSP datagram and ingests its
// encapsulated frame.
func (s *Server) processTZSPFrame(data []byte, sourceAddr string) error {
	tzspPkt, err := s.tzspDecoder.Decode(data, sourceAddr)
	if err != nil {
		return fmt.Errorf("TZSP decode error: %w", err)
	}
	if len(tzspPkt.EncapPacket) == 0 {
		return nil
	}

	timestamp := tzspPkt.ReceivedTime
	if ts := tzspPkt.GetTimestamp(); ts != nil {
		timestamp = *ts
	}

	s.ingestFrame(tzspPkt.EncapPacket, timestamp)
	return nil
}

// ingestFrame decodes one raw Ethernet frame and folds it into the flow
// cache, optionally also recording it to a pcap capture file.
func (s *Server) ingestFrame(data []byte, timestamp time.Time) {
	if s.pcapWriter != nil {
		if err := s.pcapWriter.WritePacket(data, timestamp); err != nil {
			s.logger.Error("failed to write pcap capture", "error", err)
		}
	}

	info, err := s.packetDecoder.Decode(data, timestamp.UnixNano())
	if err != nil {
		s.logger.Debug("packet decode error", "error", err)
		return
	}
	if !info.HasIPv4 {
		// The flow key's addresses are 32-bit IPv4 quantities; non-IPv4
		// frames (ARP, IPv6, etc.) have nothing for the cache to key on.
		return
	}

	s.packetsDecoded++

	pv := packetInfoToView(info, timestamp)
	if _, err := s.cache.Ingest(pv); err != nil {
		s.logger.Error("flow cache ingest failed", "error", err)
	}
}

// packetInfoToView adapts a decoded packet into the narrow contract the
// flow cache consumes (flowcache.PacketView), keeping flowcache decoupled
// from gopacket/layers.
func packetInfoToView(info *decoder.PacketInfo, timestamp time.Time) flowcache.PacketView {
	return flowcache.PacketView{
		Timestamp: timestamp,
		Key: flowcache.FlowKey{
			SrcAddr:  info.SrcAddr,
			DstAddr:  info.DstAddr,
			SrcPort:  info.SrcPort,
			DstPort:  info.DstPort,
			Protocol: info.ProtocolNum,
		},
		TTL:         info.TTL,
		PayloadLen:  info.PayloadLen,
		Payload:     info.Payload,
		TCPFlags:    info.RawTCPFlags,
		HasTCP:      info.HasTCP,
		TCPWindow:   info.TCPWindow,
		TCPSYN:      info.TCPSYN,
		TCPOptNOP:   info.TCPOptions.NOP,
		TCPOptMSS:   info.TCPOptions.MSS,
		TCPOptWScal: info.TCPOptions.WScale,
		TCPOptSACK:  info.TCPOptions.SACK,
		TCPOptTS:    info.TCPOptions.TSVal,
		SYNSize:     info.SYNSize,
	}
}

// maybeSweep drives the expiration sweeper and the statistics reporter for
// the live listener path, all from the receive loop's own goroutine (§5's
// single-threaded cooperative model forbids a concurrent sweeper touching
// the same cache). nextSweep is the deadline previously returned by this
// function; it runs the sweep/report pass and returns the next deadline
// once wall-clock time reaches it, otherwise it is a no-op.
func (s *Server) maybeSweep(nextSweep time.Time) time.Time {
	now := time.Now()
	if now.Before(nextSweep) {
		return nextSweep
	}
	s.maybeSweepAndReport(now)
	return now.Add(s.sweepInterval)
}

// maybeSweepAndReport drives the sweep/stats cadence for the replay path,
// where there is no wall-clock ticker to anchor on; it uses the replayed
// packet's own timestamp as "now".
func (s *Server) maybeSweepAndReport(now time.Time) {
	if err := s.cache.Sweep(now); err != nil {
		s.logger.Error("sweep encountered a sink error", "error", err)
	}
	if s.reporter != nil {
		s.reporter.Tick(now)
	}
}

// finalDrain performs the shutdown-time full sweep mandated by §5's
// cancellation rule: inactive_cutoff = +infinity, draining every
// remaining record regardless of its age.
func (s *Server) finalDrain() error {
	s.logger.Info("draining remaining flow records")
	if err := s.cache.Drain(); err != nil {
		s.logger.Error("drain encountered a sink error", "error", err)
	}
	if s.uploader != nil {
		s.uploader.Close()
	}
	return nil
}
