package anomaly

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
)

const (
	trainingSeed     = 42
	normalBatches    = 200
	normalBatchSize  = 20
	anomalousSamples = 50
	normalQuantile   = 0.9
)

// Model is an outlier envelope around a route's normal price behaviour. Raw
// scores are the RMS standardized deviation of a feature vector from the
// normal training set; a logistic curve calibrated between normal and
// synthetic anomalous scores maps them to a probability.
type Model struct {
	Fingerprint uint64
	Mean        Features
	Scale       Features
	Active      [NumFeatures]bool
	Center      float64
	Spread      float64
}

// Train fits a model from the route's history and synthetic examples. The
// random source is seeded so the same history always yields the same model.
func Train(history []float64, c Context) *Model {
	rng := rand.New(rand.NewSource(trainingSeed))
	mean, std := meanStd(history)
	sigma := std
	if sigma < 0.01*mean {
		sigma = 0.01 * mean
	}
	if sigma == 0 {
		sigma = 1
	}
	floor := 0.3 * mean

	normal := make([]Features, 0, normalBatches*normalBatchSize)
	batch := make([]float64, normalBatchSize)
	for b := 0; b < normalBatches; b++ {
		for i := range batch {
			batch[i] = math.Max(mean+rng.NormFloat64()*sigma, floor)
		}
		for _, p := range batch {
			normal = append(normal, Extract(p, batch, c))
		}
	}

	anomalous := make([]Features, 0, anomalousSamples)
	for i := 0; i < anomalousSamples; i++ {
		discount := 0.3 + rng.Float64()*0.5
		anomalous = append(anomalous, Extract(mean*(1-discount), history, c))
	}

	m := &Model{Fingerprint: Fingerprint(history)}
	m.fit(normal)

	normalScores := m.rawScores(normal)
	anomalousScores := m.rawScores(anomalous)
	lo := normalScores[int(normalQuantile*float64(len(normalScores)-1))]
	hi := anomalousScores[len(anomalousScores)/2]
	if hi <= lo {
		hi = lo + 1
	}
	m.Center = (lo + hi) / 2
	m.Spread = (hi - lo) / 4
	return m
}

func (m *Model) fit(rows []Features) {
	n := float64(len(rows))
	for j := 0; j < NumFeatures; j++ {
		sum := 0.0
		for _, r := range rows {
			sum += r[j]
		}
		mu := sum / n
		sq := 0.0
		for _, r := range rows {
			sq += (r[j] - mu) * (r[j] - mu)
		}
		sd := math.Sqrt(sq / n)
		m.Mean[j] = mu
		m.Scale[j] = sd
		m.Active[j] = sd > 1e-9*(1+math.Abs(mu))
	}
}

func (m *Model) rawScores(rows []Features) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = m.Raw(r)
	}
	sort.Float64s(out)
	return out
}

// Raw is the RMS standardized deviation over the non-constant features.
func (m *Model) Raw(x Features) float64 {
	sum := 0.0
	k := 0
	for j := 0; j < NumFeatures; j++ {
		if !m.Active[j] {
			continue
		}
		d := (x[j] - m.Mean[j]) / m.Scale[j]
		sum += d * d
		k++
	}
	if k == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(k))
}

func (m *Model) Probability(x Features) float64 {
	return 1 / (1 + math.Exp(-(m.Raw(x)-m.Center)/m.Spread))
}

// Fingerprint identifies a history so cached models are retrained when new
// samples arrive.
func Fingerprint(history []float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range history {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// ModelStore holds trained models per route.
type ModelStore interface {
	Get(key string) (*Model, bool)
	Put(key string, m *Model)
}

type MemoryModelStore struct {
	mu     sync.RWMutex
	models map[string]*Model
}

func NewMemoryModelStore() *MemoryModelStore {
	return &MemoryModelStore{models: make(map[string]*Model)}
}

func (s *MemoryModelStore) Get(key string) (*Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[key]
	return m, ok
}

func (s *MemoryModelStore) Put(key string, m *Model) {
	s.mu.Lock()
	s.models[key] = m
	s.mu.Unlock()
}

func (s *MemoryModelStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}
