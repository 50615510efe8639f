package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dpup/velonav/internal/cache"
	"github.com/dpup/velonav/internal/config"
	"github.com/dpup/velonav/internal/lib/geo"
	"github.com/dpup/velonav/internal/lib/routing"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "distance":
		handleDistance()
	case "bounds":
		handleBounds()
	case "project":
		handleProject()
	case "decode-polyline":
		handleDecodePolyline()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleDistance() {
	fs := flag.NewFlagSet("distance", flag.ExitOnError)
	from := fs.String("from", "", "First point as lng,lat")
	to := fs.String("to", "", "Second point as lng,lat")

	fs.Parse(os.Args[2:])

	if *from == "" || *to == "" {
		fmt.Println("Example usage:")
		fmt.Println("  geo-check distance --from -73.6147,45.5362 --to -73.5497,45.5075")
		fmt.Println("  (Jean-Talon market to the Old Port)")
		os.Exit(1)
	}

	p1 := mustParsePoint(*from)
	p2 := mustParsePoint(*to)

	distance := geo.DistanceKm(p1, p2)
	fmt.Printf("Distance between points:\n")
	fmt.Printf("  From: (%.6f, %.6f)\n", p1.Lng, p1.Lat)
	fmt.Printf("  To:   (%.6f, %.6f)\n", p2.Lng, p2.Lat)
	fmt.Printf("  Distance: %.3f km (%.0f meters)\n", distance, distance*1000)
	fmt.Printf("  Bearing: %.1f°\n", geo.BearingDeg(p1, p2))
	fmt.Printf("  Riding time: %.0f min at %.0f km/h\n", distance/routing.CruisingSpeedKmh*60, routing.CruisingSpeedKmh)
}

func handleBounds() {
	fs := flag.NewFlagSet("bounds", flag.ExitOnError)
	points := fs.String("points", "", "Points as lng,lat separated by ';'")
	polylineStr := fs.String("polyline", "", "Encoded polyline string")

	fs.Parse(os.Args[2:])

	line := mustLine(*points, *polylineStr)
	if len(line) == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  geo-check bounds --points \"0,0;1,2;-1,3\"")
		os.Exit(1)
	}

	bounds := geo.BoundingBox(line)
	fmt.Printf("Bounding box of %d points:\n", len(line))
	fmt.Printf("  Min: (%.6f, %.6f)\n", bounds.Min.Lng, bounds.Min.Lat)
	fmt.Printf("  Max: (%.6f, %.6f)\n", bounds.Max.Lng, bounds.Max.Lat)
	fmt.Printf("  Path length: %.3f km\n", geo.PathLengthKm(line))
}

func handleProject() {
	fs := flag.NewFlagSet("project", flag.ExitOnError)
	device := fs.String("device", "", "Device position as lng,lat")
	points := fs.String("points", "", "Route as lng,lat separated by ';'")
	polylineStr := fs.String("polyline", "", "Route as an encoded polyline string")
	configPath := fs.String("config", "", "Optional configuration file")

	fs.Parse(os.Args[2:])

	line := mustLine(*points, *polylineStr)
	if *device == "" || len(line) == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  geo-check project --device 0,0 --points \"0,0.002;0,0.01;0,0.02\"")
		fmt.Println("  (Would this rider be sent a corrected route?)")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	nav := cfg.Navigation

	matcher := routing.NewMatcher(nav.OffRouteThresholdKm, nav.LookaheadKm, nav.ArrivalRadiusKm)
	projection, err := matcher.Project(mustParsePoint(*device), line, cache.NewDistanceIndex())
	if err != nil {
		log.Fatalf("Error projecting device: %v", err)
	}

	fmt.Printf("Device projection:\n")
	fmt.Printf("  Route: %d points, %.3f km\n", len(line), geo.PathLengthKm(line))
	fmt.Printf("  Nearest vertex: #%d (%.6f, %.6f)\n", projection.Index, projection.Nearest.Lng, projection.Nearest.Lat)
	fmt.Printf("  Off route: %.0f meters (threshold %.0f meters)\n", projection.OffRouteKm*1000, nav.OffRouteThresholdKm*1000)
	fmt.Printf("  Remaining: %.3f km\n", projection.RemainingKm)
	fmt.Printf("  Lookahead vertex: #%d, bearing %.1f°\n", projection.LookaheadIndex, projection.Bearing)
	fmt.Printf("  Classification: %s\n", strings.ToUpper(string(projection.Classification)))
}

func handleDecodePolyline() {
	fs := flag.NewFlagSet("decode-polyline", flag.ExitOnError)
	polylineStr := fs.String("polyline", "", "Encoded polyline string to decode")
	verbose := fs.Bool("verbose", false, "Show all decoded points")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  geo-check decode-polyline --polyline \"_p~iF~ps|U_ulLnnqC_mqNvxq`@\"")
		fmt.Println("  geo-check decode-polyline --polyline \"encoded_string\" --verbose")
		os.Exit(1)
	}

	line, err := geo.DecodePolyline(*polylineStr)
	if err != nil {
		log.Fatalf("Error decoding polyline: %v", err)
	}

	fmt.Printf("Polyline decoded successfully:\n")
	fmt.Printf("  Points: %d\n", len(line))
	fmt.Printf("  Length: %.3f km\n", geo.PathLengthKm(line))
	fmt.Printf("  First: (%.6f, %.6f)\n", line[0].Lng, line[0].Lat)
	fmt.Printf("  Last:  (%.6f, %.6f)\n", line.Last().Lng, line.Last().Lat)

	if *verbose {
		for i, point := range line {
			fmt.Printf("    %d: (%.6f, %.6f) geohash %s\n", i, point.Lng, point.Lat, geo.Geohash(point, 9))
		}
	}
}

func mustParsePoint(s string) geo.Point {
	point, err := geo.ParsePoint(s)
	if err != nil {
		log.Fatalf("Error parsing point: %v", err)
	}
	return point
}

func mustLine(points, encoded string) geo.Polyline {
	if encoded != "" {
		line, err := geo.DecodePolyline(encoded)
		if err != nil {
			log.Fatalf("Error decoding polyline: %v", err)
		}
		return line
	}

	var line geo.Polyline
	for _, s := range strings.Split(points, ";") {
		if strings.TrimSpace(s) == "" {
			continue
		}
		line = append(line, mustParsePoint(s))
	}
	return line
}

func printUsage() {
	fmt.Println("geo-check - inspect the geometry the navigator works with")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  geo-check <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  distance         Great-circle distance and bearing between two points")
	fmt.Println("  bounds           Bounding box and length of a set of points")
	fmt.Println("  project          Project a device position onto a route")
	fmt.Println("  decode-polyline  Decode a Google encoded polyline")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("Run 'geo-check <command>' without flags for an example.")
}
