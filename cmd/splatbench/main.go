package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	cli "github.com/urfave/cli/v2"

	"github.com/gekko3d/splatsort"
	"github.com/gekko3d/splatsort/gpu"
)

// Shared flag definitions
var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to TOML configuration file; flags override its values",
	}
	countFlag = &cli.IntFlag{
		Name:  "count",
		Usage: "Number of synthetic points to generate",
		Value: 100000,
	}
	ticksFlag = &cli.IntFlag{
		Name:  "ticks",
		Usage: "Number of simulation ticks to run",
		Value: 120,
	}
	algorithmFlag = &cli.StringFlag{
		Name:  "algorithm",
		Usage: "Preferred engine: auto, bitonic, radix, reference or none",
		Value: string(splatsort.AlgorithmAuto),
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Worker goroutines per engine (0 = GOMAXPROCS)",
	}
	marginFlag = &cli.Float64Flag{
		Name:  "margin",
		Usage: "Frustum margin in world units",
		Value: 0.5,
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Seed for the synthetic point cloud",
		Value: 1,
	}
	gpuFlag = &cli.BoolFlag{
		Name:  "gpu",
		Usage: "Prepend the wgpu compute engine to the fallback chain",
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable debug logging",
	}
)

func loadConfig(c *cli.Context) (splatsort.Config, error) {
	var cfg splatsort.Config
	if path := c.String("config"); path != "" {
		loaded, err := splatsort.LoadConfig(path)
		if err != nil {
			return splatsort.Config{}, err
		}
		cfg = loaded
	}
	if c.IsSet("algorithm") || cfg.Algorithm == "" {
		cfg.Algorithm = splatsort.Algorithm(c.String("algorithm"))
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("margin") || cfg.FrustumMargin == 0 {
		cfg.FrustumMargin = float32(c.Float64("margin"))
	}
	cfg.Count = 0 // sized by the generated cloud
	return cfg, nil
}

// syntheticCloud fills a ball of the given radius with uniformly distributed
// points, the usual stand-in for a splat scene.
func syntheticCloud(n int, radius float32, seed int64) []mgl32.Vec3 {
	rng := rand.New(rand.NewSource(seed))
	points := make([]mgl32.Vec3, n)
	for i := range points {
		for {
			p := mgl32.Vec3{
				(rng.Float32()*2 - 1) * radius,
				(rng.Float32()*2 - 1) * radius,
				(rng.Float32()*2 - 1) * radius,
			}
			if p.LenSqr() <= radius*radius {
				points[i] = p
				break
			}
		}
	}
	return points
}

// orbitCamera circles the cloud at a fixed elevation, one revolution per 240
// ticks, always looking at the origin.
func orbitCamera(tick int, radius float32) splatsort.Camera {
	angle := float64(tick) * (2 * math.Pi / 240)
	return splatsort.Camera{
		Position: mgl32.Vec3{
			radius * 2 * float32(math.Cos(angle)),
			radius * 0.5,
			radius * 2 * float32(math.Sin(angle)),
		},
		LookAt: mgl32.Vec3{0, 0, 0},
		Up:     mgl32.Vec3{0, 1, 0},
		Fov:    math.Pi / 3,
		Aspect: 16.0 / 9.0,
		Near:   0.1,
		Far:    radius * 8,
	}
}

func buildSorter(c *cli.Context, cfg splatsort.Config, positions []mgl32.Vec3, log splatsort.Logger) (*splatsort.Sorter, func(), error) {
	opts := []splatsort.Option{splatsort.WithLogger(log)}
	cleanup := func() {}

	if c.Bool("gpu") {
		dev, err := gpu.NewDevice()
		if err != nil {
			log.Warnf("gpu unavailable, continuing on CPU: %v", err)
		} else {
			eng, err := gpu.NewEngine(dev, positions, cfg.FrustumMargin, log, "splatbench")
			if err != nil {
				log.Warnf("gpu engine setup failed, continuing on CPU: %v", err)
				dev.Close()
			} else {
				opts = append(opts, splatsort.WithEngine(eng))
				cleanup = func() { dev.Close() }
			}
		}
	}

	sorter, err := splatsort.New(positions, cfg, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return sorter, cleanup, nil
}

func handleBench(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := splatsort.NewDefaultLogger("splatbench", c.Bool("verbose"))

	const radius = 10.0
	positions := syntheticCloud(c.Int("count"), radius, c.Int64("seed"))
	log.Infof("generated %d points, algorithm %s", len(positions), cfg.Algorithm)

	sorter, cleanup, err := buildSorter(c, cfg, positions, log)
	if err != nil {
		return err
	}
	defer cleanup()
	defer sorter.Close()

	ticks := c.Int("ticks")
	sorted := 0
	start := time.Now()
	for tick := 0; tick < ticks; tick++ {
		if sorter.Update(orbitCamera(tick, radius)) {
			sorted++
		}
	}
	elapsed := time.Since(start)

	perTick := elapsed / time.Duration(ticks)
	log.Infof("%d ticks in %v (%v/tick), %d sorts, %d visible of %d",
		ticks, elapsed.Round(time.Microsecond), perTick.Round(time.Microsecond),
		sorted, sorter.VisibleCount(), len(positions))
	return nil
}

// verifyPermutation runs the engine under test once and returns its
// permutation and visible count. The gpu engine is driven directly so the
// deferred visible counter can land on a second sort of the same camera.
func verifyPermutation(c *cli.Context, cfg splatsort.Config, positions []mgl32.Vec3, cam splatsort.Camera, log splatsort.Logger) ([]uint32, int, error) {
	perm := make([]uint32, len(positions))

	if c.Bool("gpu") {
		dev, err := gpu.NewDevice()
		if err != nil {
			return nil, 0, fmt.Errorf("gpu requested but unavailable: %w", err)
		}
		defer dev.Close()
		eng, err := gpu.NewEngine(dev, positions, cfg.FrustumMargin, log, "splatbench")
		if err != nil {
			return nil, 0, err
		}
		defer eng.Close()
		if _, _, err := eng.Sort(cam, perm); err != nil {
			return nil, 0, err
		}
		visible, ok, err := eng.Sort(cam, perm)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, fmt.Errorf("visible counter still pending after two sorts")
		}
		return perm, visible, nil
	}

	sorter, err := splatsort.New(positions, cfg, splatsort.WithLogger(log))
	if err != nil {
		return nil, 0, err
	}
	defer sorter.Close()
	sorter.Update(cam)
	copy(perm, sorter.Permutation())
	return perm, sorter.VisibleCount(), nil
}

func handleVerify(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Algorithm == splatsort.AlgorithmNone {
		return fmt.Errorf("algorithm %q never sorts, nothing to verify", cfg.Algorithm)
	}
	log := splatsort.NewDefaultLogger("splatbench", c.Bool("verbose"))

	const radius = 10.0
	positions := syntheticCloud(c.Int("count"), radius, c.Int64("seed"))
	n := len(positions)
	cam := orbitCamera(0, radius)

	perm, visible, err := verifyPermutation(c, cfg, positions, cam, log)
	if err != nil {
		return err
	}

	// Bijection over [0, n).
	seen := make([]bool, n)
	for i, p := range perm {
		if int(p) >= n || seen[p] {
			return fmt.Errorf("permutation slot %d holds %d: invalid or duplicated", i, p)
		}
		seen[p] = true
	}

	dir := cam.Direction()
	depth := func(i uint32) float32 {
		return positions[i].Sub(cam.Position).Dot(dir)
	}
	minD := float32(math.Inf(1))
	maxD := float32(math.Inf(-1))
	for i := 0; i < n; i++ {
		d := depth(uint32(i))
		if d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
	}
	span := maxD - minD
	if span <= 0 {
		span = 1
	}
	buckets := splatsort.ReferenceBucketCount(n)
	bucketOf := func(d float32) int {
		b := int((d - minD) / span * float32(buckets))
		if b < 0 {
			b = 0
		}
		if b >= buckets {
			b = buckets - 1
		}
		return b
	}

	// Visible prefix runs far to near at bucket resolution; the reference
	// itself only guarantees order between buckets, not within them.
	for i := 1; i < visible; i++ {
		if bucketOf(depth(perm[i])) > bucketOf(depth(perm[i-1])) {
			return fmt.Errorf("depth bucket increases at slot %d", i)
		}
	}

	// Agreement with the reference at its bucket resolution. The reference
	// neither culls nor orders within a bucket, so its permutation is first
	// restricted to the elements the engine kept; both sequences then walk
	// the same buckets far to near and must agree slot by slot.
	refCfg := cfg
	refCfg.Algorithm = splatsort.AlgorithmReference
	ref, err := splatsort.New(positions, refCfg, splatsort.WithLogger(log))
	if err != nil {
		return err
	}
	defer ref.Close()
	ref.Update(cam)

	kept := make([]bool, n)
	for _, p := range perm[:visible] {
		kept[p] = true
	}
	refOrder := make([]uint32, 0, visible)
	for _, p := range ref.Permutation() {
		if kept[p] {
			refOrder = append(refOrder, p)
		}
	}

	mismatches := 0
	for i := 0; i < visible && i < len(refOrder); i++ {
		if bucketOf(depth(perm[i])) != bucketOf(depth(refOrder[i])) {
			mismatches++
		}
	}
	log.Infof("verify: %d visible of %d, %d/%d bucket mismatches against reference",
		visible, n, mismatches, visible)
	if mismatches > 0 {
		return fmt.Errorf("ordering leaves the reference bucket at %d of %d slots", mismatches, visible)
	}
	return nil
}

var app = &cli.App{
	Name:  "splatbench",
	Usage: "Benchmark and verify back-to-front splat ordering engines",
	Commands: []*cli.Command{
		{
			Name:  "bench",
			Usage: "Time the sorter over an orbiting camera run",
			Flags: []cli.Flag{
				configFlag,
				countFlag,
				ticksFlag,
				algorithmFlag,
				workersFlag,
				marginFlag,
				seedFlag,
				gpuFlag,
				verboseFlag,
			},
			Action: handleBench,
		},
		{
			Name:  "verify",
			Usage: "Check engine output against the reference ordering",
			Flags: []cli.Flag{
				configFlag,
				countFlag,
				algorithmFlag,
				workersFlag,
				marginFlag,
				seedFlag,
				gpuFlag,
				verboseFlag,
			},
			Action: handleVerify,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
