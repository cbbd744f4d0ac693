package ivf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kungtalon/vecdb/core"
	"github.com/kungtalon/vecdb/distance"
)

var imageMagic = [8]byte{'v', 'd', 'b', 'i', 'v', 'f', '0', '1'}

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

func writeVector(w io.Writer, vec []float32) error {
	for _, f := range vec {
		if err := binary.Write(w, binary.LittleEndian, math.Float32bits(f)); err != nil {
			return err
		}
	}
	return nil
}

func readVector(r io.Reader, dim int) ([]float32, error) {
	vec := make([]float32, dim)
	for i := range vec {
		var bits uint32
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, err
		}
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// WriteTo serializes the index image: options, centroids, partition lists,
// the untrained buffer and the tombstone set.
func (ivf *Index) WriteTo(w io.Writer) (int64, error) {
	ivf.mu.RLock()
	defer ivf.mu.RUnlock()

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	if _, err := bw.Write(imageMagic[:]); err != nil {
		return cw.n, err
	}

	header := []any{
		uint32(ivf.opts.Dimension),
		uint32(ivf.opts.NList),
		uint32(ivf.opts.NProbe),
		uint32(ivf.opts.TrainThreshold),
		uint8(ivf.opts.Metric),
		boolByte(ivf.trained),
		uint16(0),
		uint32(len(ivf.lists)),
		uint64(len(ivf.pending)),
	}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return cw.n, err
		}
	}

	if ivf.trained {
		if err := writeVector(bw, ivf.centroids); err != nil {
			return cw.n, err
		}
		for _, list := range ivf.lists {
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(list))); err != nil {
				return cw.n, err
			}
			for _, e := range list {
				if err := binary.Write(bw, binary.LittleEndian, uint32(e.id)); err != nil {
					return cw.n, err
				}
				if err := writeVector(bw, e.vector); err != nil {
					return cw.n, err
				}
			}
		}
	}

	for id, vec := range ivf.pending {
		if err := binary.Write(bw, binary.LittleEndian, uint32(id)); err != nil {
			return cw.n, err
		}
		if err := writeVector(bw, vec); err != nil {
			return cw.n, err
		}
	}

	tombs, err := ivf.tombstones.ToBytes()
	if err != nil {
		return cw.n, err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(tombs))); err != nil {
		return cw.n, err
	}
	if _, err := bw.Write(tombs); err != nil {
		return cw.n, err
	}

	if err := bw.Flush(); err != nil {
		return cw.n, err
	}

	return cw.n, nil
}

// ReadFrom replaces the index with a serialized image. The image's build
// parameters override the receiver's options.
func (ivf *Index) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	br := bufio.NewReader(cr)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return cr.n, err
	}
	if magic != imageMagic {
		return cr.n, fmt.Errorf("ivf: bad image magic %q", magic)
	}

	var (
		dim, nlist, nprobe, threshold uint32
		metric, trained               uint8
		pad                           uint16
		listCount                     uint32
		pendingCount                  uint64
	)
	for _, v := range []any{&dim, &nlist, &nprobe, &threshold, &metric, &trained, &pad, &listCount, &pendingCount} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return cr.n, err
		}
	}

	members := make(map[core.InternalID]struct{})

	var centroids []float32
	var lists [][]entry
	if trained != 0 {
		var err error
		centroids, err = readVector(br, int(listCount)*int(dim))
		if err != nil {
			return cr.n, err
		}

		lists = make([][]entry, listCount)
		for i := range lists {
			var cnt uint32
			if err := binary.Read(br, binary.LittleEndian, &cnt); err != nil {
				return cr.n, err
			}
			list := make([]entry, cnt)
			for j := range list {
				var id uint32
				if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
					return cr.n, err
				}
				vec, err := readVector(br, int(dim))
				if err != nil {
					return cr.n, err
				}
				list[j] = entry{id: core.InternalID(id), vector: vec}
				members[core.InternalID(id)] = struct{}{}
			}
			lists[i] = list
		}
	}

	pending := make(map[core.InternalID][]float32, pendingCount)
	for i := uint64(0); i < pendingCount; i++ {
		var id uint32
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return cr.n, err
		}
		vec, err := readVector(br, int(dim))
		if err != nil {
			return cr.n, err
		}
		pending[core.InternalID(id)] = vec
		members[core.InternalID(id)] = struct{}{}
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
		return cr.n, fmt.Errorf("ivf: decode tombstones: %w", err)
	}
	tombstones.Iterate(func(id uint32) bool {
		members[core.InternalID(id)] = struct{}{}
		return true
	})

	ivf.mu.Lock()
	defer ivf.mu.Unlock()

	ivf.opts.Dimension = int(dim)
	ivf.opts.NList = int(nlist)
	ivf.opts.NProbe = int(nprobe)
	ivf.opts.TrainThreshold = int(threshold)
	ivf.opts.Metric = distance.Metric(metric)
	ivf.score = distance.FuncFor(ivf.opts.Metric)

	ivf.trained = trained != 0
	ivf.centroids = centroids
	ivf.lists = lists
	ivf.pending = pending
	ivf.members = members
	ivf.tombstones = tombstones

	return cr.n, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
