// Command ctbench measures projection and reconstruction throughput on a
// synthetic phantom, reporting per-operation timing statistics.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"runtime"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/xraylab/tomo"
)

func main() {
	var (
		beam      = flag.String("beam", "parallel", "Beam geometry: parallel, fan, or cone")
		numAngles = flag.Int("angles", 360, "Number of projection angles")
		numRows   = flag.Int("rows", 128, "Detector rows")
		numCols   = flag.Int("cols", 128, "Detector columns")
		devices   = flag.Int("devices", 1, "Number of emulated devices")
		devMem    = flag.Int64("devmem", 0, "Per-device memory budget in bytes (0 = autodetect)")
		iters     = flag.Int("iters", 5, "Timed iterations per operation")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	fmt.Println("=== ctbench ===")
	fmt.Printf("Date: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("GOARCH: %s\n", runtime.GOARCH)
	fmt.Printf("CPU: %d cores\n", runtime.NumCPU())

	e := tomo.NewEngine()
	defer e.Close()

	if err := configure(e, *beam, *numAngles, *numRows, *numCols); err != nil {
		log.Fatalf("configure: %v", err)
	}
	ids := make([]int, *devices)
	for i := range ids {
		ids[i] = i
	}
	if err := e.SetDevices(ids); err != nil {
		log.Fatalf("set devices: %v", err)
	}
	if *devMem > 0 {
		if err := e.SetDeviceMemory(uint64(*devMem)); err != nil {
			log.Fatalf("set device memory: %v", err)
		}
	}
	if *verbose {
		e.PrintParameters()
		for _, d := range e.Devices() {
			fmt.Printf("device: %s, %d MB\n", d.Name, d.TotalMem>>20)
		}
	}

	nx, ny, nz := e.NumX(), e.NumY(), e.NumZ()
	f := phantom(nx, ny, nz, float64(e.VoxelWidth()))
	g := make([]float32, *numAngles**numRows**numCols)
	rec := make([]float32, len(f))

	fmt.Printf("geometry: %s, %d x %d x %d projections, %d x %d x %d volume\n",
		*beam, *numAngles, *numRows, *numCols, nx, ny, nz)

	ok := true
	ok = report("Project", *iters, func() error {
		return e.Project(tomo.HostBuffer(g), tomo.HostBuffer(f))
	}) && ok
	ok = report("Backproject", *iters, func() error {
		return e.Backproject(tomo.HostBuffer(g), tomo.HostBuffer(rec))
	}) && ok
	ok = report("FBP", *iters, func() error {
		return e.FBP(tomo.HostBuffer(g), tomo.HostBuffer(rec))
	}) && ok

	if !ok {
		os.Exit(1)
	}
}

func configure(e *tomo.Engine, beam string, numAngles, numRows, numCols int) error {
	center := float32(numCols-1) / 2
	centerRow := float32(numRows-1) / 2
	phis := tomo.UniformAngles(numAngles, 360)
	var err error
	switch beam {
	case "parallel":
		err = e.SetParallelBeam(numAngles, numRows, numCols, 1, 1, centerRow, center, phis)
	case "fan":
		err = e.SetFanBeam(numAngles, numRows, numCols, 1, 1, centerRow, center, phis, 1100, 1400)
	case "cone":
		err = e.SetConeBeam(numAngles, numRows, numCols, 1, 1, centerRow, center, phis, 1100, 1400)
	default:
		return fmt.Errorf("unknown beam geometry %q", beam)
	}
	if err != nil {
		return err
	}
	return e.SetDefaultVolume(1)
}

// phantom fills a volume with a centered uniform cylinder of unit density
// spanning half the grid radius.
func phantom(nx, ny, nz int, vw float64) []float32 {
	f := make([]float32, nx*ny*nz)
	r := vw * float64(nx) / 4
	for iz := 0; iz < nz; iz++ {
		for iy := 0; iy < ny; iy++ {
			y := vw * (float64(iy) - float64(ny-1)/2)
			for ix := 0; ix < nx; ix++ {
				x := vw * (float64(ix) - float64(nx-1)/2)
				if math.Hypot(x, y) <= r {
					f[(iz*ny+iy)*nx+ix] = 1
				}
			}
		}
	}
	return f
}

func report(name string, iters int, fn func() error) bool {
	times := make([]float64, 0, iters)
	for i := 0; i < iters; i++ {
		start := time.Now()
		if err := fn(); err != nil {
			fmt.Printf("%-14s FAILED: %v\n", name, err)
			return false
		}
		times = append(times, time.Since(start).Seconds())
	}
	mean := stat.Mean(times, nil)
	sd := stat.StdDev(times, nil)
	fmt.Printf("%-14s %8.3fs  +/- %.3fs  (%d iters)\n", name, mean, sd, iters)
	return true
}
