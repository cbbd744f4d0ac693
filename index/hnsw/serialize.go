package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/distance"
)

var imageMagic = [8]byte{'v', 'd', 'b', 'h', 'n', 's', 'w', '1'}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// WriteTo serializes the graph image. Nodes are written in ascending id
// order so images are deterministic for a given graph.
func (h *Index) WriteTo(w io.Writer) (int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	if _, err := bw.Write(imageMagic[:]); err != nil {
		return cw.n, err
	}

	header := []any{
		uint32(h.opts.Dimension),
		uint32(h.opts.M),
		uint32(h.opts.EFConstruction),
		uint32(h.opts.EFSearch),
		uint8(h.opts.Metric),
		boolByte(h.opts.Heuristic),
		boolByte(h.hasEntry),
		uint8(0),
		uint32(h.entry),
		uint32(h.maxLevel),
		uint64(len(h.nodes)),
	}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return cw.n, err
		}
	}

	ids := make([]core.InternalID, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		n := h.nodes[id]

		if err := binary.Write(bw, binary.LittleEndian, uint32(id)); err != nil {
			return cw.n, err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(n.level)); err != nil {
			return cw.n, err
		}

		for level := 0; level <= n.level; level++ {
			conns := n.neighbors[level]
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(conns))); err != nil {
				return cw.n, err
			}
			for _, c := range conns {
				if err := binary.Write(bw, binary.LittleEndian, uint32(c)); err != nil {
					return cw.n, err
				}
			}
		}

		for _, f := range n.vector {
			if err := binary.Write(bw, binary.LittleEndian, math.Float32bits(f)); err != nil {
				return cw.n, err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return cw.n, err
	}

	tombs, err := h.tombstones.ToBytes()
	if err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint64(len(tombs))); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(tombs); err != nil {
		return cw.n, err
	}

	return cw.n, nil
}

// ReadFrom replaces the graph with a serialized image. The image's build
// parameters override the receiver's options.
func (h *Index) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	br := bufio.NewReader(cr)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return cr.n, err
	}
	if magic != imageMagic {
		return cr.n, fmt.Errorf("hnsw: bad image magic %q", magic)
	}

	var (
		dim, m, efc, efs        uint32
		metric, heuristic, hasE uint8
		pad                     uint8
		entry, maxLevel         uint32
		count                   uint64
	)
	for _, v := range []any{&dim, &m, &efc, &efs, &metric, &heuristic, &hasE, &pad, &entry, &maxLevel, &count} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return cr.n, err
		}
	}

	nodes := make(map[core.InternalID]*node, count)
	for i := uint64(0); i < count; i++ {
		var id, level uint32
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return cr.n, err
		}
		if err := binary.Read(br, binary.LittleEndian, &level); err != nil {
			return cr.n, err
		}

		n := &node{
			level:     int(level),
			neighbors: make([][]core.InternalID, level+1),
		}

		for l := uint32(0); l <= level; l++ {
			var cnt uint32
			if err := binary.Read(br, binary.LittleEndian, &cnt); err != nil {
				return cr.n, err
			}
			conns := make([]core.InternalID, cnt)
			for j := range conns {
				var c uint32
				if err := binary.Read(br, binary.LittleEndian, &c); err != nil {
					return cr.n, err
				}
				conns[j] = core.InternalID(c)
			}
			n.neighbors[l] = conns
		}

		n.vector = make([]float32, dim)
		for j := range n.vector {
			var bits uint32
			if err := binary.Read(br, binary.LittleEndian, &bits); err != nil {
				return cr.n, err
			}
			n.vector[j] = math.Float32frombits(bits)
		}

		nodes[core.InternalID(id)] = n
	}

	var tombLen uint64
	if err := binary.Read(br, binary.LittleEndian, &tombLen); err != nil {
		return cr.n, err
	}
	tombBytes := make([]byte, tombLen)
	if _, err := io.ReadFull(br, tombBytes); err != nil {
		return cr.n, err
	}
	tombstones := roaring.New()
	if err := tombstones.UnmarshalBinary(tombBytes); err != nil {
		return cr.n, fmt.Errorf("hnsw: decode tombstones: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.opts.Dimension = int(dim)
	h.opts.M = int(m)
	h.opts.EFConstruction = int(efc)
	h.opts.EFSearch = int(efs)
	h.opts.Metric = distance.Metric(metric)
	h.opts.Heuristic = heuristic != 0
	h.score = distance.FuncFor(h.opts.Metric)
	h.layerMultiplier = 1.0 / math.Log(float64(h.opts.M))

	h.nodes = nodes
	h.hasEntry = hasE != 0
	h.entry = core.InternalID(entry)
	h.maxLevel = int(maxLevel)
	h.tombstones = tombstones

	return cr.n, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
