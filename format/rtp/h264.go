// Package rtp depacketizes H.264 RTP payloads (RFC 6184) into Annex-B framed
// access-unit chunks suitable for the decode orchestrator.
package rtp

import (
	"errors"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/ugparu/govdec"
	"github.com/ugparu/govdec/utils/buffer"
	"github.com/ugparu/govdec/utils/logger"
	"github.com/ugparu/govdec/utils/nal"
)

const (
	control1 = 0x1f

	nalnoIDR    = 1
	nalIDR      = 5
	nalUnitDel  = 9
	nalReserved = 23
	nalSTAPA    = 24
	nalLFUA     = 28

	fuStartBit      = 0x80
	fuEndBit        = 0x40
	fuIndicatorMask = 0xe0

	stapHeaderSize = 1
	stapSizeLen    = 2
	fuHeaderSize   = 2

	clockRate = 90000
)

// ErrShortPayload is returned for RTP payloads too small to carry a NAL
// header.
var ErrShortPayload = errors.New("rtp: payload too short")

// H264Depacketizer reassembles fragmented and aggregated RTP payloads into
// access units. One access unit spans all packets sharing an RTP timestamp
// and is flushed on the marker bit or on a timestamp change.
type H264Depacketizer struct {
	au        buffer.PooledBuffer // Annex-B accumulation of the current access unit.
	fu        buffer.PooledBuffer // FU-A reassembly buffer.
	fuStarted bool
	auKey     bool
	auValid   bool
	timestamp uint32
}

// NewH264Depacketizer returns a depacketizer with empty assembly state.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{
		au: buffer.Get(0),
		fu: buffer.Get(0),
	}
}

// Depacketize parses one raw RTP packet and returns zero or more completed
// access-unit chunks.
func (d *H264Depacketizer) Depacketize(raw []byte) ([]govdec.Chunk, error) {
	pkt := &pionrtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, err
	}
	return d.DepacketizePacket(pkt)
}

// DepacketizePacket consumes one parsed RTP packet.
func (d *H264Depacketizer) DepacketizePacket(pkt *pionrtp.Packet) ([]govdec.Chunk, error) {
	var chunks []govdec.Chunk

	if d.auValid && pkt.Timestamp != d.timestamp {
		if chunk, ok := d.flush(); ok {
			chunks = append(chunks, chunk)
		}
	}
	d.timestamp = pkt.Timestamp
	d.auValid = true

	if err := d.processPayload(pkt.Payload); err != nil {
		return chunks, err
	}

	if pkt.Marker {
		if chunk, ok := d.flush(); ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// Flush completes the pending access unit, if any. Call it when the stream
// ends without a final marker bit.
func (d *H264Depacketizer) Flush() []govdec.Chunk {
	if chunk, ok := d.flush(); ok {
		return []govdec.Chunk{chunk}
	}
	return nil
}

// Close releases the assembly buffers.
func (d *H264Depacketizer) Close() {
	d.au.Release()
	d.fu.Release()
}

func (d *H264Depacketizer) processPayload(payload []byte) error {
	if len(payload) < 1 {
		return ErrShortPayload
	}

	naluType := payload[0] & control1
	switch {
	case naluType >= nalnoIDR && naluType <= nalReserved:
		d.appendUnit(payload)
	case naluType == nalSTAPA:
		return d.processSTAPA(payload)
	case naluType == nalLFUA:
		return d.processFUA(payload)
	default:
		logger.Debugf(d, "Currently unsupported NAL type %v", naluType)
	}
	return nil
}

// processSTAPA splits an aggregation packet into its embedded units.
func (d *H264Depacketizer) processSTAPA(payload []byte) error {
	packet := payload[stapHeaderSize:]
	for len(packet) >= stapSizeLen {
		size := int(packet[0])<<8 | int(packet[1])
		if size+stapSizeLen > len(packet) {
			return ErrShortPayload
		}
		d.appendUnit(packet[stapSizeLen : stapSizeLen+size])
		packet = packet[stapSizeLen+size:]
	}
	return nil
}

// processFUA reassembles one fragmentation unit. Fragments before a start
// bit, e.g. after joining mid-stream, are dropped.
func (d *H264Depacketizer) processFUA(payload []byte) error {
	if len(payload) < fuHeaderSize {
		return ErrShortPayload
	}
	fuIndicator := payload[0]
	fuHeader := payload[1]
	isStart := fuHeader&fuStartBit != 0
	isEnd := fuHeader&fuEndBit != 0

	if isStart {
		d.fuStarted = true
		d.fu.Resize(1)
		d.fu.Data()[0] = fuIndicator&fuIndicatorMask | fuHeader&control1
	}
	if !d.fuStarted {
		logger.Tracef(d, "Dropping FU-A fragment without start")
		return nil
	}

	old := d.fu.Len()
	d.fu.Resize(old + len(payload) - fuHeaderSize)
	copy(d.fu.Data()[old:], payload[fuHeaderSize:])

	if isEnd {
		d.fuStarted = false
		d.appendUnit(d.fu.Data())
	}
	return nil
}

// appendUnit adds one NAL unit to the current access unit in Annex-B form.
func (d *H264Depacketizer) appendUnit(unit []byte) {
	if len(unit) == 0 {
		return
	}
	typ := unit[0] & control1
	if typ == nalUnitDel {
		return
	}
	if typ == nalIDR {
		d.auKey = true
	}

	old := d.au.Len()
	d.au.Resize(old + len(nal.StartCode) + len(unit))
	copy(d.au.Data()[old:], nal.StartCode)
	copy(d.au.Data()[old+len(nal.StartCode):], unit)
}

// flush emits the accumulated access unit as one chunk and resets assembly
// state. The chunk owns an independent copy of the data.
func (d *H264Depacketizer) flush() (govdec.Chunk, bool) {
	defer func() {
		d.au.Resize(0)
		d.auKey = false
		d.auValid = false
	}()

	if d.au.Len() == 0 {
		return govdec.Chunk{}, false
	}

	kind := govdec.DeltaChunk
	if d.auKey {
		kind = govdec.KeyChunk
	}
	data := make([]byte, d.au.Len())
	copy(data, d.au.Data())

	return govdec.Chunk{
		Kind:      kind,
		Data:      data,
		Timestamp: time.Duration(d.timestamp) * time.Second / clockRate,
	}, true
}

// String identifies the depacketizer in log output.
func (d *H264Depacketizer) String() string {
	return "H264_DEPACKETIZER"
}
