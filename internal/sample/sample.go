package sample

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/paulmach/orb"

	"asmwatch/internal/model"
)

// Synthetic catalog generator for demos and fixtures. Coordinates cluster
// around real mining districts so the output looks plausible on a map.

type districtSeed struct {
	name   string
	center orb.Point
	radius float64
}

type regionSeed struct {
	name      string
	weight    float64
	districts []districtSeed
}

var regionSeeds = []regionSeed{
	{
		name:   "Western Region",
		weight: 0.50,
		districts: []districtSeed{
			{"Tarkwa-Nsuaem", orb.Point{-1.99, 5.30}, 0.15},
			{"Prestea-Huni Valley", orb.Point{-2.15, 5.45}, 0.12},
			{"Wassa East", orb.Point{-2.05, 5.65}, 0.10},
			{"Bibiani-Anhwiaso-Bekwai", orb.Point{-2.32, 6.46}, 0.13},
		},
	},
	{
		name:   "Ashanti Region",
		weight: 0.35,
		districts: []districtSeed{
			{"Obuasi", orb.Point{-1.67, 6.19}, 0.12},
			{"Amansie Central", orb.Point{-1.86, 6.43}, 0.10},
			{"Amansie West", orb.Point{-2.05, 6.35}, 0.11},
			{"Adansi South", orb.Point{-1.83, 6.10}, 0.09},
		},
	},
	{
		name:   "Eastern Region",
		weight: 0.15,
		districts: []districtSeed{
			{"Atiwa West", orb.Point{-0.74, 6.16}, 0.08},
			{"Birim North", orb.Point{-0.91, 6.14}, 0.10},
			{"Denkyembour", orb.Point{-0.96, 6.08}, 0.09},
			{"West Akim", orb.Point{-0.72, 5.98}, 0.11},
		},
	},
}

type Options struct {
	Count       int
	DaysBack    int
	HighRatio   float64
	MediumRatio float64
	Seed        int64
	Now         time.Time
}

func (o *Options) normalize() {
	if o.Count <= 0 {
		o.Count = 45
	}
	if o.DaysBack <= 0 {
		o.DaysBack = 30
	}
	if o.HighRatio <= 0 {
		o.HighRatio = 0.22
	}
	if o.MediumRatio <= 0 {
		o.MediumRatio = 0.53
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
}

// Generate builds a synthetic detection batch. The same seed always yields
// the same batch.
func Generate(opts Options) []model.Detection {
	opts.normalize()
	rng := rand.New(rand.NewSource(opts.Seed))

	numHigh := int(float64(opts.Count) * opts.HighRatio)
	numMedium := int(float64(opts.Count) * opts.MediumRatio)
	tiers := make([]string, 0, opts.Count)
	for i := 0; i < numHigh; i++ {
		tiers = append(tiers, "high")
	}
	for i := 0; i < numMedium; i++ {
		tiers = append(tiers, "medium")
	}
	for len(tiers) < opts.Count {
		tiers = append(tiers, "low")
	}
	rng.Shuffle(len(tiers), func(i, j int) { tiers[i], tiers[j] = tiers[j], tiers[i] })

	out := make([]model.Detection, 0, opts.Count)
	for i, tier := range tiers {
		region := pickRegion(rng)
		district := region.districts[rng.Intn(len(region.districts))]

		confidence := confidenceFor(rng, tier)
		date := opts.Now.AddDate(0, 0, -recentDays(rng, opts.DaysBack))

		out = append(out, model.Detection{
			Point:      jitter(rng, district.center, district.radius),
			Confidence: roundTo(confidence, 4),
			District:   district.name,
			Region:     region.name,
			Date:       date.Format(model.DateFormat),
			AreaHa:     roundTo(areaFor(rng, confidence), 2),
			TileID:     fmt.Sprintf("S2A_TILE_%s_%06d", date.Format("20060102"), 100000+rng.Intn(900000)+i),
			AlertLevel: model.Classify(confidence),
		})
	}
	return out
}

func pickRegion(rng *rand.Rand) regionSeed {
	r := rng.Float64()
	acc := 0.0
	for _, seed := range regionSeeds {
		acc += seed.weight
		if r <= acc {
			return seed
		}
	}
	return regionSeeds[len(regionSeeds)-1]
}

func confidenceFor(rng *rand.Rand, tier string) float64 {
	switch tier {
	case "high":
		return 0.81 + rng.Float64()*0.17
	case "medium":
		return 0.51 + rng.Float64()*0.29
	default:
		return 0.31 + rng.Float64()*0.19
	}
}

func areaFor(rng *rand.Rand, confidence float64) float64 {
	switch {
	case confidence > 0.9:
		return 1.5 + rng.Float64()*3.0
	case confidence > 0.75:
		return 0.8 + rng.Float64()*1.7
	default:
		return 0.3 + rng.Float64()*1.2
	}
}

// recentDays skews sampled ages toward the present.
func recentDays(rng *rand.Rand, daysBack int) int {
	a := rng.Float64()
	b := rng.Float64()
	if b < a {
		a = b
	}
	return int(a * float64(daysBack))
}

func jitter(rng *rand.Rand, center orb.Point, radius float64) orb.Point {
	return orb.Point{
		roundTo(center[0]+(rng.Float64()*2-1)*radius, 6),
		roundTo(center[1]+(rng.Float64()*2-1)*radius, 6),
	}
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
