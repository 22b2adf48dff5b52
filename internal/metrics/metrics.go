// Package metrics implements Prometheus metrics for dissect, build and codec
// activity.
package metrics

import (
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"firestige.xyz/sapcraft/pkg/compress"
	"firestige.xyz/sapcraft/pkg/packet"
)

const namespace = "sapcraft"

// Codec directions.
const (
	DirectionIn  = "compress"
	DirectionOut = "decompress"
)

var (
	// LayersDecodedTotal counts layers produced by dissection, by definition.
	LayersDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_decoded_total",
			Help:      "Total number of layers produced by dissection",
		},
		[]string{"layer"},
	)

	// DecodeErrorsTotal counts dissections that returned an error, by outer layer.
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of dissections that failed",
		},
		[]string{"layer"},
	)

	// OpaquePayloadsTotal counts payloads kept as raw bytes after an inner failure.
	OpaquePayloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opaque_payloads_total",
			Help:      "Total number of payloads left opaque after a decode failure",
		},
		[]string{"layer"},
	)

	// LayersBuiltTotal counts layers serialized by the build engine.
	LayersBuiltTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_built_total",
			Help:      "Total number of layers serialized",
		},
		[]string{"layer"},
	)

	// CodecBytesTotal counts uncompressed bytes going through a codec.
	CodecBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_bytes_total",
			Help:      "Total number of uncompressed bytes processed by the LZC/LZH codecs",
		},
		[]string{"algorithm", "direction"},
	)

	// FramesTotal counts NI frames read, by source (stream, pcap).
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of NI frames read",
		},
		[]string{"source"},
	)
)

// ObserveDissect records the outcome of one dissection rooted at l.
func ObserveDissect(def *packet.Definition, l *packet.Layer, err error) {
	if err != nil {
		DecodeErrorsTotal.WithLabelValues(def.Name()).Inc()
	}
	if l == nil {
		return
	}
	walk(l, func(x *packet.Layer) {
		LayersDecodedTotal.WithLabelValues(x.Name()).Inc()
		if x.PayloadErr() != nil {
			OpaquePayloadsTotal.WithLabelValues(x.Name()).Inc()
		}
		if c := x.Codec(); c != compress.None {
			CodecBytesTotal.WithLabelValues(c.String(), DirectionOut).Add(float64(len(x.LayerPayload())))
		}
	})
}

// ObserveBuild records a successful build of l.
func ObserveBuild(l *packet.Layer) {
	walk(l, func(x *packet.Layer) {
		LayersBuiltTotal.WithLabelValues(x.Name()).Inc()
	})
}

// ObserveCodec records n uncompressed bytes processed by alg.
func ObserveCodec(alg compress.Algorithm, direction string, n int) {
	CodecBytesTotal.WithLabelValues(alg.String(), direction).Add(float64(n))
}

// ObserveFrame records one NI frame read from source.
func ObserveFrame(source string) {
	FramesTotal.WithLabelValues(source).Inc()
}

// walk visits l, its payload chain and the layers held in list fields.
func walk(l *packet.Layer, fn func(*packet.Layer)) {
	for _, x := range l.Chain() {
		fn(x)
		for _, f := range x.Definition().Fields() {
			if f.Type.Kind() != packet.KindLayers {
				continue
			}
			for _, item := range x.List(f.Name) {
				walk(item, fn)
			}
		}
	}
}

// WriteText writes the sapcraft metric families in the Prometheus text
// exposition format.
func WriteText(w io.Writer) error {
	return writeText(w, prometheus.DefaultGatherer)
}

func writeText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
