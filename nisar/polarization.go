package nisar

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nisar-gcov/streamer/chunkio"
	"github.com/nisar-gcov/streamer/hdf5"
	"github.com/nisar-gcov/streamer/internal/dtype"
	"github.com/nisar-gcov/streamer/internal/message"
)

// dbGap is the 3 dB power-ratio threshold spec §4.5 uses to distinguish a
// second co-pol dataset from a cross-pol one in the two-dataset heuristic.
const dbGap = 3.0

// heuristicClassifyDiagonalTerms is the last-resort covariance-term
// classifier: it samples the center chunk of every chunked rank-2 float or
// integer dataset directly under fgPath (metadata datasets excluded) and
// orders them by mean power.
// The strongest candidate is HHHH (co-pol); for exactly two candidates, a
// power gap exceeding 3 dB marks the second as cross-pol (HVHV), otherwise
// it is treated as a second co-pol channel (VVVV).
func (r *Resolver) heuristicClassifyDiagonalTerms(fgPath string) ([]string, map[string]string, error) {
	type candidate struct {
		name string
		path string
		ds   *hdf5.Dataset
	}

	var candidates []candidate
	prefix := fgPath + "/"
	for path, ds := range r.catalog {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := path[len(prefix):]
		if strings.Contains(rest, "/") {
			continue // not a direct child
		}
		if isMetadataDatasetName(rest) {
			continue
		}
		class := ds.DtypeClass()
		if ds.Rank() != 2 || (class != message.ClassFloatPoint && class != message.ClassFixedPoint) {
			continue
		}
		if !ds.IsChunked() {
			continue
		}
		candidates = append(candidates, candidate{name: rest, path: path, ds: ds})
	}

	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("nisar: no covariance-term candidates found under %s", fgPath)
	}

	type scored struct {
		candidate
		power float64
	}
	var results []scored
	for _, c := range candidates {
		power, err := centerChunkMeanPower(c.ds)
		if err != nil {
			continue
		}
		results = append(results, scored{c, power})
	}
	if len(results) == 0 {
		return nil, nil, fmt.Errorf("nisar: could not sample any covariance-term candidate under %s", fgPath)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].power > results[j].power })

	paths := make(map[string]string)
	var names []string

	assign := func(term, path string) {
		paths[term] = path
		names = append(names, term)
	}

	assign("HHHH", results[0].path)
	if len(results) == 1 {
		return names, paths, nil
	}

	gapDB := 10 * math.Log10(results[0].power/math.Max(results[1].power, 1e-30))
	if gapDB > dbGap {
		assign("HVHV", results[1].path)
	} else {
		assign("VVVV", results[1].path)
	}

	for _, extra := range results[2:] {
		assign(extra.name, extra.path)
	}

	return names, paths, nil
}

// centerChunkMeanPower reads the chunk covering the array's center and
// returns the mean of its non-negative, non-NaN samples.
func centerChunkMeanPower(ds *hdf5.Dataset) (float64, error) {
	layout, err := ds.ChunkLayout()
	if err != nil {
		return 0, err
	}
	if len(layout.Dims) != 2 || len(layout.ChunkDims) != 2 {
		return 0, fmt.Errorf("nisar: expected rank-2 chunked dataset")
	}

	origin := []uint64{
		(layout.Dims[0] / 2 / uint64(layout.ChunkDims[0])) * uint64(layout.ChunkDims[0]),
		(layout.Dims[1] / 2 / uint64(layout.ChunkDims[1])) * uint64(layout.ChunkDims[1]),
	}

	engine := chunkio.New(ds.FileSource(), layout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Close()

	raw, err := engine.ReadChunk(ctx, origin)
	if err != nil {
		return 0, err
	}

	n := int(layout.ChunkDims[0]) * int(layout.ChunkDims[1])
	samples, err := dtype.DecodeFloat32(layout.Datatype, raw, n)
	if err != nil {
		return 0, err
	}

	var sum float64
	var count int
	for _, v := range samples {
		f := float64(v)
		if math.IsNaN(f) || f <= 0 {
			continue
		}
		sum += f
		count++
	}
	if count == 0 {
		return 0, fmt.Errorf("nisar: center chunk has no valid samples")
	}
	return sum / float64(count), nil
}

func isMetadataDatasetName(name string) bool {
	switch name {
	case "xCoordinates", "yCoordinates", "xCoordinateSpacing", "yCoordinateSpacing",
		"projection", "mask", "listOfCovarianceTerms", "listOfPolarizations",
		"numberOfSubSwaths", "validSamplesSubSwath":
		return true
	}
	return false
}
