package lookaround

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Coverage tiles arrive as bare protobuf with no published schema. Field
// numbers and scales below were derived from live responses; unknown fields
// are skipped so additions on the wire do not break parsing.
//
//	tile:  1 repeated pano (len-delimited)
//	pano:  1 id (varint)
//	       2 build id (varint)
//	       3 offset south of the tile NW corner, 1e-7 degrees (zigzag)
//	       4 offset east of the tile NW corner, 1e-7 degrees (zigzag)
//	       5 heading, milliradians counter-clockwise from north (varint)
//	       6 elevation, centimeters (zigzag)
//	       7 capture time, unix milliseconds (varint)
type tilePano struct {
	id         uint64
	buildID    uint64
	latOffE7   int64
	lngOffE7   int64
	headingMR  uint64
	elevCM     int64
	capturedMS uint64
}

func parseTile(b []byte) ([]tilePano, error) {
	var panos []tilePano
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("tile tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("tile pano bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]

			p, err := parsePano(v)
			if err != nil {
				return nil, err
			}
			panos = append(panos, p)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("tile field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return panos, nil
}

func parsePano(b []byte) (tilePano, error) {
	var p tilePano
	var hasID bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, fmt.Errorf("pano tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, fmt.Errorf("pano field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]

			switch num {
			case 1:
				p.id = v
				hasID = true
			case 2:
				p.buildID = v
			case 3:
				p.latOffE7 = protowire.DecodeZigZag(v)
			case 4:
				p.lngOffE7 = protowire.DecodeZigZag(v)
			case 5:
				p.headingMR = v
			case 6:
				p.elevCM = protowire.DecodeZigZag(v)
			case 7:
				p.capturedMS = v
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return p, fmt.Errorf("pano field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	if !hasID {
		return p, fmt.Errorf("pano missing id field")
	}
	return p, nil
}
